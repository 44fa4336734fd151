// Package directory holds the tenant data model: users, organizations,
// memberships, clinician/patient profiles, patient-clinician links,
// invitations, and the provider-event idempotency ledger.
package directory

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a membership role within one organization.
type Role string

const (
	RoleOrgAdmin  Role = "org_admin"
	RoleClinician Role = "clinician"
	RolePatient   Role = "patient"
)

// StaffRoles are the roles admitted through the B2B flow.
var StaffRoles = []Role{RoleOrgAdmin, RoleClinician}

func (r Role) Valid() bool {
	switch r {
	case RoleOrgAdmin, RoleClinician, RolePatient:
		return true
	}
	return false
}

// IsStaff reports whether the role authenticates via the organization flow.
func (r Role) IsStaff() bool {
	return slices.Contains(StaffRoles, r)
}

// MembershipStatus is active or inactive; memberships are never deleted.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "inactive"
)

// InvitationStatus tracks an invitation through its lifecycle. At most one
// pending invitation exists per (org, email, role); it is reconciled to
// accepted exactly once.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRevoked  InvitationStatus = "revoked"
	InvitationExpired  InvitationStatus = "expired"
)

// User is a global identity, created on first successful verification and
// never deleted by this subsystem.
type User struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ProviderUserID string    `db:"provider_user_id" json:"provider_user_id"`
	Email          string    `db:"email" json:"email"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Organization is a tenant. Created out-of-band by ops; this subsystem only
// reads it and refreshes the name on drift.
type Organization struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	ProviderOrgID string    `db:"provider_org_id" json:"provider_org_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Membership joins a user to an organization. At most one row per
// (org, user); an existing membership's role is authoritative and is never
// overwritten by a later login.
type Membership struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	OrgID            uuid.UUID        `db:"org_id" json:"org_id"`
	UserID           uuid.UUID        `db:"user_id" json:"user_id"`
	Role             Role             `db:"role" json:"role"`
	Status           MembershipStatus `db:"status" json:"status"`
	ProviderMemberID *string          `db:"provider_member_id" json:"provider_member_id,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// ClinicianProfile is the 1:1 extension of a clinician membership.
type ClinicianProfile struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OrgID     uuid.UUID `db:"org_id" json:"org_id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PatientProfile is the 1:1 extension of a patient membership. LegalName and
// DateOfBirth are pre-filled from invitation metadata when present and left
// null for later self-service completion otherwise.
type PatientProfile struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OrgID       uuid.UUID  `db:"org_id" json:"org_id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	LegalName   *string    `db:"legal_name" json:"legal_name,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// PatientClinicianLink relates a patient profile to a clinician profile.
// Unique on (patient_id, clinician_id); soft-deactivated, never deleted.
type PatientClinicianLink struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	ClinicianID uuid.UUID  `db:"clinician_id" json:"clinician_id"`
	OrgID       uuid.UUID  `db:"org_id" json:"org_id"`
	Active      bool       `db:"active" json:"active"`
	CreatedBy   *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// InvitationMetadata carries optional pre-fill fields for patient onboarding.
type InvitationMetadata struct {
	LegalName   *string `json:"legal_name,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"` // YYYY-MM-DD
}

// ParseDateOfBirth returns the metadata date of birth as a time, or nil when
// absent or malformed (absence is valid, not an error).
func (m InvitationMetadata) ParseDateOfBirth() *time.Time {
	if m.DateOfBirth == nil {
		return nil
	}
	t, err := time.Parse("2006-01-02", *m.DateOfBirth)
	if err != nil {
		return nil
	}
	return &t
}

// Invitation is a pending onboarding record.
type Invitation struct {
	ID                   uuid.UUID          `db:"id" json:"id"`
	OrgID                uuid.UUID          `db:"org_id" json:"org_id"`
	Email                string             `db:"email" json:"email"`
	Role                 Role               `db:"role" json:"role"`
	Status               InvitationStatus   `db:"status" json:"status"`
	InvitedBy            *uuid.UUID         `db:"invited_by" json:"invited_by,omitempty"`
	ProviderInvitationID *string            `db:"provider_invitation_id" json:"provider_invitation_id,omitempty"`
	Metadata             InvitationMetadata `db:"metadata" json:"metadata"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
}

// ProcessedProviderEvent is the write-once idempotency ledger for webhook
// deliveries.
type ProcessedProviderEvent struct {
	EventID     string    `db:"event_id" json:"event_id"`
	EventType   string    `db:"event_type" json:"event_type"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// NormalizeEmail lower-cases and trims an email for matching. Invitation
// emails are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
