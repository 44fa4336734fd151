package reconcile

import (
	"context"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/domain/directory"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/idp"
)

// StaffResult is the normalized outcome of a staff verification.
type StaffResult struct {
	UserID           uuid.UUID      `json:"user_id"`
	OrgID            uuid.UUID      `json:"org_id"`
	Role             directory.Role `json:"role"`
	Email            string         `json:"email"`
	ProviderMemberID string         `json:"provider_member_id"`
}

// VerifyStaff verifies a staff session token and reconciles the local user,
// membership, role, and clinician profile against the claims. Membership
// creation and invitation consumption happen in one tenant-scoped
// transaction; a unique-violation loss against a concurrent login is retried
// once, at which point the winner's membership is simply observed.
func (s *Service) VerifyStaff(ctx context.Context, token string) (*StaffResult, error) {
	claims, err := s.idp.VerifyStaffSession(ctx, token)
	if err != nil {
		s.metrics.ObserveReconciliation("staff", "auth_failed")
		return nil, err
	}

	org, err := s.orgs.GetByProviderID(ctx, claims.ProviderOrgID)
	if err != nil {
		if db.IsNoRows(err) {
			s.metrics.ObserveReconciliation("staff", "org_not_found")
			return nil, apperr.New(apperr.KindOrgNotFound, "organization not found")
		}
		return nil, err
	}

	var result *StaffResult
	for attempt := 0; ; attempt++ {
		err = s.tx.WithTenantTx(ctx, org.ID, nil, func(ctx context.Context) error {
			result, err = s.reconcileStaff(ctx, org.ID, claims)
			return err
		})
		if err == nil {
			break
		}
		// Concurrent invitation consumption: the constraint is the race
		// guard. The loser re-reads instead of erroring to the caller.
		if db.IsUniqueViolation(err) && attempt == 0 {
			s.logger.Debug().Str("org_id", org.ID.String()).
				Msg("staff reconciliation lost a race, retrying")
			continue
		}
		s.metrics.ObserveReconciliation("staff", apperr.KindOf(err).String())
		return nil, err
	}

	s.metrics.ObserveReconciliation("staff", "ok")
	return result, nil
}

func (s *Service) reconcileStaff(ctx context.Context, orgID uuid.UUID, claims *idp.StaffClaims) (*StaffResult, error) {
	user, err := s.users.UpsertByProviderID(ctx, claims.ProviderUserID, claims.Email)
	if err != nil {
		return nil, err
	}

	m, err := s.memberships.Get(ctx, orgID, user.ID)
	switch {
	case err == nil:
		// Existing membership: its role stays authoritative; only the
		// provider-side member id may have rotated.
		if m.ProviderMemberID == nil || *m.ProviderMemberID != claims.ProviderMemberID {
			if err := s.memberships.SetProviderMemberID(ctx, orgID, user.ID, claims.ProviderMemberID); err != nil {
				return nil, err
			}
		}
		if err := s.ensureProfile(ctx, m); err != nil {
			return nil, err
		}
		return &StaffResult{
			UserID:           user.ID,
			OrgID:            orgID,
			Role:             m.Role,
			Email:            user.Email,
			ProviderMemberID: claims.ProviderMemberID,
		}, nil

	case db.IsNoRows(err):
		inv, err := s.invitations.GetPendingStaff(ctx, orgID, claims.Email)
		if err != nil {
			if db.IsNoRows(err) {
				return nil, apperr.New(apperr.KindNoInvitation, "no pending invitation for this organization")
			}
			return nil, err
		}

		memberID := claims.ProviderMemberID
		m := &directory.Membership{
			OrgID:            orgID,
			UserID:           user.ID,
			Role:             inv.Role,
			Status:           directory.MembershipActive,
			ProviderMemberID: &memberID,
		}
		if err := s.memberships.Create(ctx, m); err != nil {
			return nil, err
		}
		if err := s.ensureProfile(ctx, m); err != nil {
			return nil, err
		}
		if _, err := s.invitations.Consume(ctx, inv.ID); err != nil {
			return nil, err
		}
		return &StaffResult{
			UserID:           user.ID,
			OrgID:            orgID,
			Role:             inv.Role,
			Email:            user.Email,
			ProviderMemberID: claims.ProviderMemberID,
		}, nil

	default:
		return nil, err
	}
}
