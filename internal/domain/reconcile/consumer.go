package reconcile

import (
	"context"
	"regexp"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/domain/directory"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/db"
)

// PatientResultKind discriminates the two mutually exclusive shapes of a
// patient verification result.
type PatientResultKind string

const (
	PatientSingleOrg PatientResultKind = "single"
	PatientMultiOrg  PatientResultKind = "multi"
)

// PatientResult is the tagged outcome of a consumer verification. Kind is
// the discriminant: "single" carries OrgID, "multi" carries OrgIDs.
type PatientResult struct {
	Kind   PatientResultKind `json:"kind"`
	UserID uuid.UUID         `json:"user_id"`
	Email  string            `json:"email"`
	OrgID  uuid.UUID         `json:"org_id,omitempty"`
	OrgIDs []uuid.UUID       `json:"org_ids,omitempty"`
}

// Provider subject identifiers are opaque but bounded; anything else in the
// session response is treated as a bad credential, not a lookup miss.
var providerUserIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// VerifyPatient verifies a consumer session token and reconciles patient
// state. A brand-new identity is admitted through its pending invitation;
// an established identity resolves to one org or the full multi-org set.
func (s *Service) VerifyPatient(ctx context.Context, token string) (*PatientResult, error) {
	claims, err := s.idp.VerifyConsumerSession(ctx, token)
	if err != nil {
		s.metrics.ObserveReconciliation("patient", "auth_failed")
		return nil, err
	}
	if !providerUserIDPattern.MatchString(claims.ProviderUserID) {
		s.metrics.ObserveReconciliation("patient", "auth_failed")
		return nil, apperr.New(apperr.KindAuthInvalid, "malformed provider user id")
	}

	var result *PatientResult
	for attempt := 0; ; attempt++ {
		result, err = s.resolvePatient(ctx, claims.ProviderUserID)
		if err == nil {
			break
		}
		// Concurrent signups for the same email converge: the loser's
		// transaction rolled back, the winner's membership now exists.
		if db.IsUniqueViolation(err) && attempt == 0 {
			s.logger.Debug().Msg("patient reconciliation lost a race, retrying")
			continue
		}
		s.metrics.ObserveReconciliation("patient", apperr.KindOf(err).String())
		return nil, err
	}

	s.metrics.ObserveReconciliation("patient", "ok")
	return result, nil
}

func (s *Service) resolvePatient(ctx context.Context, providerUserID string) (*PatientResult, error) {
	user, err := s.users.GetByProviderID(ctx, providerUserID)
	if err != nil {
		if db.IsNoRows(err) {
			// First sight of this identity. The email is not on the session
			// claims; fetch it, find the invitation, and only then create
			// anything; a missing invitation must leave zero rows behind.
			email, err := s.idp.FetchConsumerProfile(ctx, providerUserID)
			if err != nil {
				return nil, err
			}
			return s.admitPatient(ctx, providerUserID, email)
		}
		return nil, err
	}

	memberships, err := s.memberships.ListPatientMemberships(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	switch len(memberships) {
	case 0:
		// The user exists from another role or flow but holds no patient
		// membership yet; admit through a pending invitation.
		email := user.Email
		if email == "" {
			if email, err = s.idp.FetchConsumerProfile(ctx, providerUserID); err != nil {
				return nil, err
			}
		}
		return s.admitPatient(ctx, providerUserID, email)

	case 1:
		m := memberships[0]
		if err := s.repairPatientProfile(ctx, m); err != nil {
			return nil, err
		}
		return &PatientResult{
			Kind:   PatientSingleOrg,
			UserID: user.ID,
			Email:  user.Email,
			OrgID:  m.OrgID,
		}, nil

	default:
		orgIDs := make([]uuid.UUID, 0, len(memberships))
		for _, m := range memberships {
			if err := s.repairPatientProfile(ctx, m); err != nil {
				return nil, err
			}
			orgIDs = append(orgIDs, m.OrgID)
		}
		return &PatientResult{
			Kind:   PatientMultiOrg,
			UserID: user.ID,
			Email:  user.Email,
			OrgIDs: orgIDs,
		}, nil
	}
}

// admitPatient consumes a pending patient invitation for email: creates the
// user, the patient membership and profile (pre-filled from invitation
// metadata), and, when the inviter is a clinician in that org, an active
// patient-clinician link. All inside one tenant-scoped transaction.
func (s *Service) admitPatient(ctx context.Context, providerUserID, email string) (*PatientResult, error) {
	email = directory.NormalizeEmail(email)

	inv, err := s.invitations.FindPendingPatientByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.New(apperr.KindNoInvitation, "no pending invitation for this account")
		}
		return nil, err
	}

	var result *PatientResult
	err = s.tx.WithTenantTx(ctx, inv.OrgID, nil, func(ctx context.Context) error {
		user, err := s.users.UpsertByProviderID(ctx, providerUserID, email)
		if err != nil {
			return err
		}

		m := &directory.Membership{
			OrgID:  inv.OrgID,
			UserID: user.ID,
			Role:   directory.RolePatient,
			Status: directory.MembershipActive,
		}
		if err := s.memberships.Create(ctx, m); err != nil {
			return err
		}

		// Metadata is re-parsed rather than trusted: a malformed stored
		// date of birth degrades to an absent pre-fill instead of failing
		// the admission transaction on the date cast.
		var dob *string
		if t := inv.Metadata.ParseDateOfBirth(); t != nil {
			formatted := t.Format("2006-01-02")
			dob = &formatted
		}
		profile, err := s.profiles.EnsurePatientProfile(ctx, inv.OrgID, user.ID,
			inv.Metadata.LegalName, dob)
		if err != nil {
			return err
		}

		// An inviter without a clinician profile (an org admin) simply
		// yields no link.
		if inv.InvitedBy != nil {
			clinician, err := s.profiles.GetClinicianProfile(ctx, inv.OrgID, *inv.InvitedBy)
			switch {
			case err == nil:
				if err := s.links.EnsureLink(ctx, profile.ID, clinician.ID, inv.OrgID, inv.InvitedBy); err != nil {
					return err
				}
			case !db.IsNoRows(err):
				return err
			}
		}

		if _, err := s.invitations.Consume(ctx, inv.ID); err != nil {
			return err
		}

		result = &PatientResult{
			Kind:   PatientSingleOrg,
			UserID: user.ID,
			Email:  user.Email,
			OrgID:  inv.OrgID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// repairPatientProfile enforces the profile-follows-membership invariant for
// an established patient membership.
func (s *Service) repairPatientProfile(ctx context.Context, m *directory.Membership) error {
	return s.tx.WithTenantTx(ctx, m.OrgID, &m.UserID, func(ctx context.Context) error {
		return s.ensureProfile(ctx, m)
	})
}
