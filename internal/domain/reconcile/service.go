// Package reconcile implements the reconciliation engine: given verified
// identity-provider claims, it resolves or creates the local user, resolves
// organization membership, applies invitation-driven role inference, and
// establishes clinician-patient linkage. Every operation is idempotent and
// runs inside one tenant-scoped transaction, converging races through
// database constraints.
package reconcile

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/directory"
	"github.com/carelink/carelink/internal/platform/idp"
)

// IdentityProvider is the slice of the provider client the engine needs.
type IdentityProvider interface {
	VerifyStaffSession(ctx context.Context, token string) (*idp.StaffClaims, error)
	VerifyConsumerSession(ctx context.Context, token string) (*idp.ConsumerClaims, error)
	FetchConsumerProfile(ctx context.Context, providerUserID string) (string, error)
}

// TenantTxRunner opens tenant-scoped transactions. Satisfied by *db.Gateway.
type TenantTxRunner interface {
	WithTenantTx(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID, fn func(ctx context.Context) error) error
}

// Observer counts reconciliation outcomes. Nil-safe via nopObserver.
type Observer interface {
	ObserveReconciliation(flow, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveReconciliation(string, string) {}

type Service struct {
	tx          TenantTxRunner
	idp         IdentityProvider
	users       directory.UserRepository
	orgs        directory.OrganizationRepository
	memberships directory.MembershipRepository
	profiles    directory.ProfileRepository
	links       directory.LinkRepository
	invitations directory.InvitationRepository
	logger      zerolog.Logger
	metrics     Observer
}

func NewService(
	tx TenantTxRunner,
	provider IdentityProvider,
	users directory.UserRepository,
	orgs directory.OrganizationRepository,
	memberships directory.MembershipRepository,
	profiles directory.ProfileRepository,
	links directory.LinkRepository,
	invitations directory.InvitationRepository,
	logger zerolog.Logger,
	metrics Observer,
) *Service {
	if metrics == nil {
		metrics = nopObserver{}
	}
	return &Service{
		tx:          tx,
		idp:         provider,
		users:       users,
		orgs:        orgs,
		memberships: memberships,
		profiles:    profiles,
		links:       links,
		invitations: invitations,
		logger:      logger,
		metrics:     metrics,
	}
}

// ensureProfile enforces the invariant that profile-row existence follows
// from membership existence. Invoked on every reconciliation pass so
// historical data gaps self-heal instead of accumulating.
func (s *Service) ensureProfile(ctx context.Context, m *directory.Membership) error {
	switch m.Role {
	case directory.RoleClinician:
		_, err := s.profiles.EnsureClinicianProfile(ctx, m.OrgID, m.UserID)
		return err
	case directory.RolePatient:
		_, err := s.profiles.EnsurePatientProfile(ctx, m.OrgID, m.UserID, nil, nil)
		return err
	}
	return nil
}
