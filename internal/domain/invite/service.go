// Package invite issues and lists onboarding invitations. Issuance is
// tenant-scoped and guarded by the partial uniqueness constraint on pending
// invitations, so repeated invites for the same (org, email, role) reuse the
// existing pending record instead of stacking duplicates.
package invite

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/directory"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/db"
)

// Actor is the verified staff identity performing the invitation call.
type Actor struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   directory.Role
}

// Provider is the slice of the identity-provider client invitation issuance
// needs.
type Provider interface {
	InviteOrganizationMember(ctx context.Context, providerOrgID, email, name string, roles []string) (string, error)
	SendMagicLink(ctx context.Context, providerOrgID, email string) error
}

// TenantTxRunner opens tenant-scoped transactions. Satisfied by *db.Gateway.
type TenantTxRunner interface {
	WithTenantTx(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID, fn func(ctx context.Context) error) error
}

type Service struct {
	tx          TenantTxRunner
	provider    Provider
	orgs        directory.OrganizationRepository
	invitations directory.InvitationRepository
	logger      zerolog.Logger
}

func NewService(
	tx TenantTxRunner,
	provider Provider,
	orgs directory.OrganizationRepository,
	invitations directory.InvitationRepository,
	logger zerolog.Logger,
) *Service {
	return &Service{
		tx:          tx,
		provider:    provider,
		orgs:        orgs,
		invitations: invitations,
		logger:      logger,
	}
}

// InviteStaff creates a pending staff invitation and registers the member at
// the identity provider. Only org admins may invite staff. When the provider
// reports the email already belongs to the organization, the call degrades
// to resending a magic link instead of failing.
func (s *Service) InviteStaff(ctx context.Context, actor Actor, email string, role directory.Role) (*directory.Invitation, error) {
	if actor.Role != directory.RoleOrgAdmin {
		return nil, apperr.New(apperr.KindInsufficientRole, "only organization admins may invite staff")
	}
	if !role.IsStaff() {
		return nil, apperr.New(apperr.KindInsufficientRole, "staff invitations accept org_admin or clinician roles")
	}
	email = directory.NormalizeEmail(email)

	inv, err := s.ensurePending(ctx, actor, email, role, directory.InvitationMetadata{})
	if err != nil {
		return nil, err
	}

	org, err := s.orgs.GetByID(ctx, actor.OrgID)
	if err != nil {
		return nil, err
	}

	// The provider call runs outside any open transaction; a pending local
	// invitation with no provider handle is retried on the next invite.
	memberID, err := s.provider.InviteOrganizationMember(ctx, org.ProviderOrgID, email, "", []string{string(role)})
	switch {
	case err == nil:
		if inv.ProviderInvitationID == nil || *inv.ProviderInvitationID != memberID {
			err = s.tx.WithTenantTx(ctx, actor.OrgID, &actor.UserID, func(ctx context.Context) error {
				return s.invitations.SetProviderInvitationID(ctx, inv.ID, memberID)
			})
			if err != nil {
				return nil, err
			}
			inv.ProviderInvitationID = &memberID
		}
	case apperr.KindOf(err) == apperr.KindDuplicateMember:
		// Already a provider-side member: resend the login link so the
		// invitee can still complete local onboarding.
		s.logger.Info().Str("org_id", actor.OrgID.String()).
			Msg("invitee already a provider member, resending magic link")
		if err := s.provider.SendMagicLink(ctx, org.ProviderOrgID, email); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return inv, nil
}

// InvitePatient creates a pending patient invitation, optionally carrying
// pre-fill metadata. Clinicians and org admins may invite patients; the
// inviting clinician is recorded so acceptance can establish the care link.
func (s *Service) InvitePatient(ctx context.Context, actor Actor, email string, legalName, dateOfBirth *string) (*directory.Invitation, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.New(apperr.KindInsufficientRole, "only staff may invite patients")
	}
	email = directory.NormalizeEmail(email)

	meta := directory.InvitationMetadata{LegalName: legalName, DateOfBirth: dateOfBirth}
	// A date of birth that does not parse is dropped rather than stored;
	// stored metadata must never be able to fail the admission transaction.
	if meta.DateOfBirth != nil && meta.ParseDateOfBirth() == nil {
		s.logger.Warn().Str("org_id", actor.OrgID.String()).
			Msg("discarding unparseable date of birth on patient invitation")
		meta.DateOfBirth = nil
	}
	return s.ensurePending(ctx, actor, email, directory.RolePatient, meta)
}

// ListInvitations returns every invitation for the actor's organization.
func (s *Service) ListInvitations(ctx context.Context, actor Actor) ([]*directory.Invitation, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.New(apperr.KindInsufficientRole, "only staff may list invitations")
	}
	var out []*directory.Invitation
	err := s.tx.WithTenantTx(ctx, actor.OrgID, &actor.UserID, func(ctx context.Context) error {
		var err error
		out, err = s.invitations.ListByOrg(ctx, actor.OrgID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ensurePending returns the pending invitation for (org, email, role),
// creating it when absent. A concurrent create losing the partial-unique
// race converges by re-reading the winner's row.
func (s *Service) ensurePending(ctx context.Context, actor Actor, email string, role directory.Role, meta directory.InvitationMetadata) (*directory.Invitation, error) {
	var inv *directory.Invitation
	for attempt := 0; ; attempt++ {
		err := s.tx.WithTenantTx(ctx, actor.OrgID, &actor.UserID, func(ctx context.Context) error {
			existing, err := s.invitations.GetPending(ctx, actor.OrgID, email, role)
			if err == nil {
				inv = existing
				return nil
			}
			if !db.IsNoRows(err) {
				return err
			}
			actorID := actor.UserID
			inv = &directory.Invitation{
				OrgID:     actor.OrgID,
				Email:     email,
				Role:      role,
				Status:    directory.InvitationPending,
				InvitedBy: &actorID,
				Metadata:  meta,
			}
			return s.invitations.Create(ctx, inv)
		})
		if err == nil {
			return inv, nil
		}
		if db.IsUniqueViolation(err) && attempt == 0 {
			s.logger.Debug().Msg("invitation create lost a race, re-reading")
			continue
		}
		return nil, err
	}
}
