package directory

import (
	"context"

	"github.com/google/uuid"
)

// UserRepository persists global identities. Users live outside any tenant
// scope.
type UserRepository interface {
	// UpsertByProviderID creates the user on first sight and refreshes the
	// email on every subsequent verification.
	UpsertByProviderID(ctx context.Context, providerUserID, email string) (*User, error)
	GetByProviderID(ctx context.Context, providerUserID string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// SetEmail refreshes the email of an existing user, used by webhook
	// member updates where no session claims are available.
	SetEmail(ctx context.Context, id uuid.UUID, email string) error
}

// OrganizationRepository persists tenants. GetByProviderID is an
// administrative lookup that runs outside tenant context, since callers use
// it to establish that context in the first place.
type OrganizationRepository interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	GetByProviderID(ctx context.Context, providerOrgID string) (*Organization, error)
	UpdateName(ctx context.Context, id uuid.UUID, name string) error
}

// MembershipRepository persists org-user joins.
type MembershipRepository interface {
	Create(ctx context.Context, m *Membership) error
	Get(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error)
	GetByProviderMemberID(ctx context.Context, providerMemberID string) (*Membership, error)
	// ListPatientMemberships is an administrative lookup spanning all orgs a
	// user belongs to as a patient.
	ListPatientMemberships(ctx context.Context, userID uuid.UUID) ([]*Membership, error)
	SetProviderMemberID(ctx context.Context, orgID, userID uuid.UUID, providerMemberID string) error
	SetStatus(ctx context.Context, orgID, userID uuid.UUID, status MembershipStatus) error
}

// ProfileRepository persists the 1:1 membership extensions. Both Ensure
// methods are idempotent on (org, user): they create the row when missing and
// return the existing one otherwise.
type ProfileRepository interface {
	EnsureClinicianProfile(ctx context.Context, orgID, userID uuid.UUID) (*ClinicianProfile, error)
	GetClinicianProfile(ctx context.Context, orgID, userID uuid.UUID) (*ClinicianProfile, error)
	EnsurePatientProfile(ctx context.Context, orgID, userID uuid.UUID, legalName *string, dateOfBirth *string) (*PatientProfile, error)
}

// LinkRepository persists patient-clinician links. EnsureLink creates the
// link active, or reactivates a previously deactivated one; links are never
// hard-deleted.
type LinkRepository interface {
	EnsureLink(ctx context.Context, patientID, clinicianID, orgID uuid.UUID, createdBy *uuid.UUID) error
}

// InvitationRepository persists pending onboarding records. Consume claims a
// pending invitation exactly once: the first caller to observe it pending
// wins; everyone else sees claimed=false.
type InvitationRepository interface {
	Create(ctx context.Context, inv *Invitation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invitation, error)
	// GetPendingStaff finds a pending org_admin or clinician invitation for
	// (org, email).
	GetPendingStaff(ctx context.Context, orgID uuid.UUID, email string) (*Invitation, error)
	GetPending(ctx context.Context, orgID uuid.UUID, email string, role Role) (*Invitation, error)
	// FindPendingPatientByEmail is an administrative lookup: the consumer
	// flow does not know the org until the invitation is found.
	FindPendingPatientByEmail(ctx context.Context, email string) (*Invitation, error)
	Consume(ctx context.Context, id uuid.UUID) (claimed bool, err error)
	// ConsumePendingByOrgEmail accepts pending staff invitations only;
	// patient invitations for the same address are left pending.
	ConsumePendingByOrgEmail(ctx context.Context, orgID uuid.UUID, email string) (claimed bool, err error)
	SetProviderInvitationID(ctx context.Context, id uuid.UUID, providerInvitationID string) error
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*Invitation, error)
}

// EventLedger is the webhook idempotency ledger.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	// Record inserts the event id; a duplicate insert from a concurrent
	// delivery is benign and reported as a nil error.
	Record(ctx context.Context, eventID, eventType string) error
}
