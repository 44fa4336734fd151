package invite

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/directory"
	"github.com/carelink/carelink/internal/platform/apperr"
)

type fakeTx struct{}

func (fakeTx) WithTenantTx(ctx context.Context, _ uuid.UUID, _ *uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeProvider struct {
	memberID       string
	inviteErr      error
	invited        []string
	magicLinkSends []string
	magicLinkErr   error
}

func (f *fakeProvider) InviteOrganizationMember(_ context.Context, _, email, _ string, _ []string) (string, error) {
	f.invited = append(f.invited, email)
	if f.inviteErr != nil {
		return "", f.inviteErr
	}
	return f.memberID, nil
}

func (f *fakeProvider) SendMagicLink(_ context.Context, _, email string) error {
	f.magicLinkSends = append(f.magicLinkSends, email)
	return f.magicLinkErr
}

type fakeOrgs struct {
	org *directory.Organization
}

func (f *fakeOrgs) Create(context.Context, *directory.Organization) error { return nil }

func (f *fakeOrgs) GetByID(_ context.Context, id uuid.UUID) (*directory.Organization, error) {
	if f.org != nil && f.org.ID == id {
		return f.org, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeOrgs) GetByProviderID(_ context.Context, providerOrgID string) (*directory.Organization, error) {
	if f.org != nil && f.org.ProviderOrgID == providerOrgID {
		return f.org, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeOrgs) UpdateName(context.Context, uuid.UUID, string) error { return nil }

type fakeInvitations struct {
	byID map[uuid.UUID]*directory.Invitation
}

func newFakeInvitations() *fakeInvitations {
	return &fakeInvitations{byID: make(map[uuid.UUID]*directory.Invitation)}
}

func (f *fakeInvitations) Create(_ context.Context, inv *directory.Invitation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	f.byID[inv.ID] = inv
	return nil
}

func (f *fakeInvitations) GetByID(_ context.Context, id uuid.UUID) (*directory.Invitation, error) {
	if inv, ok := f.byID[id]; ok {
		return inv, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeInvitations) GetPendingStaff(_ context.Context, orgID uuid.UUID, email string) (*directory.Invitation, error) {
	for _, inv := range f.byID {
		if inv.OrgID == orgID && inv.Email == email && inv.Status == directory.InvitationPending && inv.Role.IsStaff() {
			return inv, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeInvitations) GetPending(_ context.Context, orgID uuid.UUID, email string, role directory.Role) (*directory.Invitation, error) {
	for _, inv := range f.byID {
		if inv.OrgID == orgID && inv.Email == email && inv.Status == directory.InvitationPending && inv.Role == role {
			return inv, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeInvitations) FindPendingPatientByEmail(_ context.Context, email string) (*directory.Invitation, error) {
	for _, inv := range f.byID {
		if inv.Email == email && inv.Status == directory.InvitationPending && inv.Role == directory.RolePatient {
			return inv, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeInvitations) Consume(_ context.Context, id uuid.UUID) (bool, error) {
	inv, ok := f.byID[id]
	if !ok || inv.Status != directory.InvitationPending {
		return false, nil
	}
	inv.Status = directory.InvitationAccepted
	return true, nil
}

func (f *fakeInvitations) ConsumePendingByOrgEmail(context.Context, uuid.UUID, string) (bool, error) {
	return false, nil
}

func (f *fakeInvitations) SetProviderInvitationID(_ context.Context, id uuid.UUID, providerInvitationID string) error {
	inv, ok := f.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	inv.ProviderInvitationID = &providerInvitationID
	return nil
}

func (f *fakeInvitations) ListByOrg(_ context.Context, orgID uuid.UUID) ([]*directory.Invitation, error) {
	var out []*directory.Invitation
	for _, inv := range f.byID {
		if inv.OrgID == orgID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func newInviteFixture(memberID string, inviteErr error) (*Service, *fakeProvider, *fakeInvitations, Actor) {
	org := &directory.Organization{ID: uuid.New(), Name: "Acme Health", ProviderOrgID: "organization-test-acme"}
	provider := &fakeProvider{memberID: memberID, inviteErr: inviteErr}
	invitations := newFakeInvitations()
	svc := NewService(fakeTx{}, provider, &fakeOrgs{org: org}, invitations, zerolog.Nop())
	actor := Actor{UserID: uuid.New(), OrgID: org.ID, Role: directory.RoleOrgAdmin}
	return svc, provider, invitations, actor
}

func TestInviteStaffCreatesPendingAndRegistersMember(t *testing.T) {
	svc, provider, invitations, actor := newInviteFixture("member-test-77", nil)

	inv, err := svc.InviteStaff(context.Background(), actor, "Dr.Lee@Acme.Example", directory.RoleClinician)
	if err != nil {
		t.Fatalf("InviteStaff: %v", err)
	}
	if inv.Email != "dr.lee@acme.example" {
		t.Errorf("email = %q, want normalized", inv.Email)
	}
	if inv.Role != directory.RoleClinician || inv.Status != directory.InvitationPending {
		t.Errorf("invitation = %s/%s, want clinician/pending", inv.Role, inv.Status)
	}
	if inv.InvitedBy == nil || *inv.InvitedBy != actor.UserID {
		t.Errorf("invited_by = %v, want actor", inv.InvitedBy)
	}
	if inv.ProviderInvitationID == nil || *inv.ProviderInvitationID != "member-test-77" {
		t.Errorf("provider invitation id = %v, want member-test-77", inv.ProviderInvitationID)
	}
	if len(provider.invited) != 1 || provider.invited[0] != "dr.lee@acme.example" {
		t.Errorf("provider invites = %v", provider.invited)
	}
	if len(invitations.byID) != 1 {
		t.Errorf("invitations = %d, want 1", len(invitations.byID))
	}
}

func TestInviteStaffReusesPendingInvitation(t *testing.T) {
	svc, _, invitations, actor := newInviteFixture("member-test-78", nil)

	first, err := svc.InviteStaff(context.Background(), actor, "admin2@acme.example", directory.RoleOrgAdmin)
	if err != nil {
		t.Fatalf("first invite: %v", err)
	}
	second, err := svc.InviteStaff(context.Background(), actor, "admin2@acme.example", directory.RoleOrgAdmin)
	if err != nil {
		t.Fatalf("second invite: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second invite created a new record: %s vs %s", first.ID, second.ID)
	}
	if len(invitations.byID) != 1 {
		t.Errorf("invitations = %d, want 1", len(invitations.byID))
	}
}

func TestInviteStaffDuplicateMemberFallsBackToMagicLink(t *testing.T) {
	dup := apperr.New(apperr.KindDuplicateMember, "member already exists")
	svc, provider, _, actor := newInviteFixture("", dup)

	inv, err := svc.InviteStaff(context.Background(), actor, "existing@acme.example", directory.RoleClinician)
	if err != nil {
		t.Fatalf("duplicate member must not surface: %v", err)
	}
	if inv.Status != directory.InvitationPending {
		t.Errorf("status = %s, want pending", inv.Status)
	}
	if len(provider.magicLinkSends) != 1 || provider.magicLinkSends[0] != "existing@acme.example" {
		t.Errorf("magic link sends = %v, want resend", provider.magicLinkSends)
	}
}

func TestInviteStaffRequiresOrgAdmin(t *testing.T) {
	svc, provider, invitations, actor := newInviteFixture("member-test-79", nil)
	actor.Role = directory.RoleClinician

	_, err := svc.InviteStaff(context.Background(), actor, "x@acme.example", directory.RoleClinician)
	if apperr.KindOf(err) != apperr.KindInsufficientRole {
		t.Fatalf("kind = %v, want insufficient_role", apperr.KindOf(err))
	}
	if len(provider.invited) != 0 || len(invitations.byID) != 0 {
		t.Error("rejected invite must not reach the provider or the database")
	}
}

func TestInviteStaffRejectsPatientRole(t *testing.T) {
	svc, _, _, actor := newInviteFixture("member-test-80", nil)

	_, err := svc.InviteStaff(context.Background(), actor, "x@acme.example", directory.RolePatient)
	if apperr.KindOf(err) != apperr.KindInsufficientRole {
		t.Fatalf("kind = %v, want insufficient_role", apperr.KindOf(err))
	}
}

func TestInvitePatientCarriesMetadata(t *testing.T) {
	svc, provider, invitations, actor := newInviteFixture("", nil)
	actor.Role = directory.RoleClinician
	name := "Jordan Rivers"
	dob := "1990-04-02"

	inv, err := svc.InvitePatient(context.Background(), actor, "Jordan@Example.com", &name, &dob)
	if err != nil {
		t.Fatalf("InvitePatient: %v", err)
	}
	if inv.Email != "jordan@example.com" || inv.Role != directory.RolePatient {
		t.Errorf("invitation = %q/%s, want jordan@example.com/patient", inv.Email, inv.Role)
	}
	if inv.Metadata.LegalName == nil || *inv.Metadata.LegalName != name {
		t.Errorf("legal name metadata = %v", inv.Metadata.LegalName)
	}
	if inv.Metadata.DateOfBirth == nil || *inv.Metadata.DateOfBirth != dob {
		t.Errorf("date of birth metadata = %v", inv.Metadata.DateOfBirth)
	}
	// Patients register through the consumer flow; no provider-side member
	// is created at invite time.
	if len(provider.invited) != 0 {
		t.Errorf("patient invite must not call the provider, got %v", provider.invited)
	}
	if len(invitations.byID) != 1 {
		t.Errorf("invitations = %d, want 1", len(invitations.byID))
	}
}

func TestInvitePatientDiscardsUnparseableDateOfBirth(t *testing.T) {
	svc, _, invitations, actor := newInviteFixture("", nil)
	actor.Role = directory.RoleClinician
	name := "Jordan Rivers"
	dob := "04/02/1990"

	inv, err := svc.InvitePatient(context.Background(), actor, "jordan@example.com", &name, &dob)
	if err != nil {
		t.Fatalf("InvitePatient: %v", err)
	}
	if inv.Metadata.LegalName == nil || *inv.Metadata.LegalName != name {
		t.Errorf("legal name metadata = %v", inv.Metadata.LegalName)
	}
	if inv.Metadata.DateOfBirth != nil {
		t.Errorf("date of birth metadata = %v, want discarded", inv.Metadata.DateOfBirth)
	}
	stored := invitations.byID[inv.ID]
	if stored == nil || stored.Metadata.DateOfBirth != nil {
		t.Error("stored invitation must not carry an unparseable date of birth")
	}
}

func TestInvitePatientRequiresStaff(t *testing.T) {
	svc, _, _, actor := newInviteFixture("", nil)
	actor.Role = directory.RolePatient

	_, err := svc.InvitePatient(context.Background(), actor, "x@example.com", nil, nil)
	if apperr.KindOf(err) != apperr.KindInsufficientRole {
		t.Fatalf("kind = %v, want insufficient_role", apperr.KindOf(err))
	}
}

func TestListInvitationsScopedToOrg(t *testing.T) {
	svc, _, invitations, actor := newInviteFixture("", nil)
	otherOrg := uuid.New()
	for _, inv := range []*directory.Invitation{
		{OrgID: actor.OrgID, Email: "a@example.com", Role: directory.RolePatient, Status: directory.InvitationPending},
		{OrgID: actor.OrgID, Email: "b@acme.example", Role: directory.RoleClinician, Status: directory.InvitationAccepted},
		{OrgID: otherOrg, Email: "c@other.example", Role: directory.RolePatient, Status: directory.InvitationPending},
	} {
		if err := invitations.Create(context.Background(), inv); err != nil {
			t.Fatalf("seed invitation: %v", err)
		}
	}

	out, err := svc.ListInvitations(context.Background(), actor)
	if err != nil {
		t.Fatalf("ListInvitations: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("invitations = %d, want 2", len(out))
	}
	for _, inv := range out {
		if inv.OrgID != actor.OrgID {
			t.Errorf("foreign org invitation leaked: %s", inv.OrgID)
		}
	}
}
