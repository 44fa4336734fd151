package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const userColumns = `id, provider_user_id, email, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ProviderUserID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) UpsertByProviderID(ctx context.Context, providerUserID, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO app_user (id, provider_user_id, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_user_id)
		DO UPDATE SET email = EXCLUDED.email, updated_at = NOW()
		RETURNING `+userColumns,
		uuid.New(), providerUserID, NormalizeEmail(email)))
}

func (r *userRepoPG) GetByProviderID(ctx context.Context, providerUserID string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM app_user WHERE provider_user_id = $1`, providerUserID))
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM app_user WHERE id = $1`, id))
}

func (r *userRepoPG) SetEmail(ctx context.Context, id uuid.UUID, email string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE app_user SET email = $2, updated_at = NOW() WHERE id = $1`,
		id, NormalizeEmail(email))
	return err
}

// -- Organization Repository --

type orgRepoPG struct {
	pool *pgxpool.Pool
}

func NewOrganizationRepoPG(pool *pgxpool.Pool) OrganizationRepository {
	return &orgRepoPG{pool: pool}
}

func (r *orgRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const orgColumns = `id, name, provider_org_id, created_at, updated_at`

func scanOrg(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.ProviderOrgID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orgRepoPG) Create(ctx context.Context, org *Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO organization (id, name, provider_org_id)
		VALUES ($1, $2, $3)`,
		org.ID, org.Name, org.ProviderOrgID)
	return err
}

func (r *orgRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return scanOrg(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organization WHERE id = $1`, id))
}

// GetByProviderID resolves the local org from the provider's identifier via
// the RLS-bypassing lookup function, since callers hold no tenant context yet.
func (r *orgRepoPG) GetByProviderID(ctx context.Context, providerOrgID string) (*Organization, error) {
	return scanOrg(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orgColumns+` FROM lookup_organization_by_provider_id($1)`, providerOrgID))
}

func (r *orgRepoPG) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE organization SET name = $2, updated_at = NOW() WHERE id = $1`, id, name)
	return err
}

// -- Membership Repository --

type membershipRepoPG struct {
	pool *pgxpool.Pool
}

func NewMembershipRepoPG(pool *pgxpool.Pool) MembershipRepository {
	return &membershipRepoPG{pool: pool}
}

func (r *membershipRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const membershipColumns = `id, org_id, user_id, role, status, provider_member_id, created_at, updated_at`

func scanMembership(row pgx.Row) (*Membership, error) {
	var m Membership
	err := row.Scan(&m.ID, &m.OrgID, &m.UserID, &m.Role, &m.Status,
		&m.ProviderMemberID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepoPG) Create(ctx context.Context, m *Membership) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = MembershipActive
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO membership (id, org_id, user_id, role, status, provider_member_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.OrgID, m.UserID, m.Role, m.Status, m.ProviderMemberID)
	return err
}

func (r *membershipRepoPG) Get(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	return scanMembership(r.conn(ctx).QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM membership WHERE org_id = $1 AND user_id = $2`,
		orgID, userID))
}

func (r *membershipRepoPG) GetByProviderMemberID(ctx context.Context, providerMemberID string) (*Membership, error) {
	return scanMembership(r.conn(ctx).QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM membership WHERE provider_member_id = $1`,
		providerMemberID))
}

func (r *membershipRepoPG) ListPatientMemberships(ctx context.Context, userID uuid.UUID) ([]*Membership, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+membershipColumns+` FROM lookup_patient_memberships($1)`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func (r *membershipRepoPG) SetProviderMemberID(ctx context.Context, orgID, userID uuid.UUID, providerMemberID string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE membership SET provider_member_id = $3, updated_at = NOW()
		WHERE org_id = $1 AND user_id = $2`,
		orgID, userID, providerMemberID)
	return err
}

func (r *membershipRepoPG) SetStatus(ctx context.Context, orgID, userID uuid.UUID, status MembershipStatus) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE membership SET status = $3, updated_at = NOW()
		WHERE org_id = $1 AND user_id = $2`,
		orgID, userID, status)
	return err
}

// -- Profile Repository --

type profileRepoPG struct {
	pool *pgxpool.Pool
}

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepoPG{pool: pool}
}

func (r *profileRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *profileRepoPG) EnsureClinicianProfile(ctx context.Context, orgID, userID uuid.UUID) (*ClinicianProfile, error) {
	var p ClinicianProfile
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinician_profile (id, org_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, user_id) DO UPDATE SET org_id = EXCLUDED.org_id
		RETURNING id, org_id, user_id, created_at`,
		uuid.New(), orgID, userID).
		Scan(&p.ID, &p.OrgID, &p.UserID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepoPG) GetClinicianProfile(ctx context.Context, orgID, userID uuid.UUID) (*ClinicianProfile, error) {
	var p ClinicianProfile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, org_id, user_id, created_at
		FROM clinician_profile WHERE org_id = $1 AND user_id = $2`,
		orgID, userID).
		Scan(&p.ID, &p.OrgID, &p.UserID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsurePatientProfile creates the profile with any pre-fill values, or
// returns the existing row untouched; repair passes must not clobber data a
// patient has since completed themselves.
func (r *profileRepoPG) EnsurePatientProfile(ctx context.Context, orgID, userID uuid.UUID, legalName *string, dateOfBirth *string) (*PatientProfile, error) {
	var p PatientProfile
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_profile (id, org_id, user_id, legal_name, date_of_birth)
		VALUES ($1, $2, $3, $4, $5::date)
		ON CONFLICT (org_id, user_id) DO UPDATE SET org_id = EXCLUDED.org_id
		RETURNING id, org_id, user_id, legal_name, date_of_birth, created_at`,
		uuid.New(), orgID, userID, legalName, dateOfBirth).
		Scan(&p.ID, &p.OrgID, &p.UserID, &p.LegalName, &p.DateOfBirth, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Link Repository --

type linkRepoPG struct {
	pool *pgxpool.Pool
}

func NewLinkRepoPG(pool *pgxpool.Pool) LinkRepository {
	return &linkRepoPG{pool: pool}
}

func (r *linkRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *linkRepoPG) EnsureLink(ctx context.Context, patientID, clinicianID, orgID uuid.UUID, createdBy *uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_clinician_link (id, patient_id, clinician_id, org_id, active, created_by)
		VALUES ($1, $2, $3, $4, true, $5)
		ON CONFLICT (patient_id, clinician_id) DO UPDATE SET active = true`,
		uuid.New(), patientID, clinicianID, orgID, createdBy)
	return err
}

// -- Invitation Repository --

type invitationRepoPG struct {
	pool *pgxpool.Pool
}

func NewInvitationRepoPG(pool *pgxpool.Pool) InvitationRepository {
	return &invitationRepoPG{pool: pool}
}

func (r *invitationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const invitationColumns = `id, org_id, email, role, status, invited_by, provider_invitation_id, metadata, created_at`

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var inv Invitation
	var metadata []byte
	err := row.Scan(&inv.ID, &inv.OrgID, &inv.Email, &inv.Role, &inv.Status,
		&inv.InvitedBy, &inv.ProviderInvitationID, &metadata, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inv.Metadata); err != nil {
			return nil, fmt.Errorf("decode invitation metadata: %w", err)
		}
	}
	return &inv, nil
}

func (r *invitationRepoPG) Create(ctx context.Context, inv *Invitation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.Status == "" {
		inv.Status = InvitationPending
	}
	inv.Email = NormalizeEmail(inv.Email)

	metadata, err := json.Marshal(inv.Metadata)
	if err != nil {
		return fmt.Errorf("encode invitation metadata: %w", err)
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO invitation (id, org_id, email, role, status, invited_by, provider_invitation_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inv.ID, inv.OrgID, inv.Email, inv.Role, inv.Status,
		inv.InvitedBy, inv.ProviderInvitationID, metadata)
	return err
}

func (r *invitationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	return scanInvitation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitation WHERE id = $1`, id))
}

func (r *invitationRepoPG) GetPendingStaff(ctx context.Context, orgID uuid.UUID, email string) (*Invitation, error) {
	return scanInvitation(r.conn(ctx).QueryRow(ctx, `
		SELECT `+invitationColumns+` FROM invitation
		WHERE org_id = $1 AND email = $2 AND status = 'pending' AND role IN ('org_admin', 'clinician')
		ORDER BY created_at DESC
		LIMIT 1`,
		orgID, NormalizeEmail(email)))
}

func (r *invitationRepoPG) GetPending(ctx context.Context, orgID uuid.UUID, email string, role Role) (*Invitation, error) {
	return scanInvitation(r.conn(ctx).QueryRow(ctx, `
		SELECT `+invitationColumns+` FROM invitation
		WHERE org_id = $1 AND email = $2 AND role = $3 AND status = 'pending'`,
		orgID, NormalizeEmail(email), role))
}

func (r *invitationRepoPG) FindPendingPatientByEmail(ctx context.Context, email string) (*Invitation, error) {
	return scanInvitation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM lookup_pending_patient_invitation($1)`,
		NormalizeEmail(email)))
}

// Consume flips pending → accepted exactly once. The status predicate makes
// the update a row-level claim: under concurrent acceptance one caller gets
// claimed=true and the rest observe the row already gone from pending.
func (r *invitationRepoPG) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE invitation SET status = 'accepted' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumePendingByOrgEmail accepts pending staff invitations for (org,
// email). Provider member events only ever correspond to the B2B flow, so a
// pending patient invitation for the same address must stay pending.
func (r *invitationRepoPG) ConsumePendingByOrgEmail(ctx context.Context, orgID uuid.UUID, email string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invitation SET status = 'accepted'
		WHERE org_id = $1 AND email = $2 AND status = 'pending'
		  AND role IN ('org_admin', 'clinician')`,
		orgID, NormalizeEmail(email))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *invitationRepoPG) SetProviderInvitationID(ctx context.Context, id uuid.UUID, providerInvitationID string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE invitation SET provider_invitation_id = $2 WHERE id = $1`, id, providerInvitationID)
	return err
}

func (r *invitationRepoPG) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*Invitation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+invitationColumns+` FROM invitation WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// -- Event Ledger --

type eventLedgerPG struct {
	pool *pgxpool.Pool
}

func NewEventLedgerPG(pool *pgxpool.Pool) EventLedger {
	return &eventLedgerPG{pool: pool}
}

func (r *eventLedgerPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *eventLedgerPG) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_provider_event WHERE event_id = $1)`, eventID).
		Scan(&exists)
	return exists, err
}

func (r *eventLedgerPG) Record(ctx context.Context, eventID, eventType string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO processed_provider_event (event_id, event_type)
		VALUES ($1, $2)`,
		eventID, eventType)
	if err != nil && db.IsUniqueViolation(err) {
		// A concurrent delivery already recorded it.
		return nil
	}
	return err
}
