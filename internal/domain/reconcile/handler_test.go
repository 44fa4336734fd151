package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/domain/directory"
	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/carelink/carelink/internal/platform/idp"
)

func newVerifyContext(e *echo.Echo, path, authorization string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandlerRejectsMissingBearer(t *testing.T) {
	svc, _ := newTestService(newMemStore(), &fakeIDP{})
	h := NewHandler(svc)
	e := echo.New()

	for _, header := range []string{"", "Basic abc123", "Bearer ", "token-without-scheme"} {
		c, _ := newVerifyContext(e, "/api/v1/auth/staff/verify", header)
		err := h.VerifyStaff(c)
		if apperr.KindOf(err) != apperr.KindAuthInvalid {
			t.Errorf("header %q: kind = %v, want auth_invalid", header, apperr.KindOf(err))
		}
	}
}

func TestHandlerVerifyStaff(t *testing.T) {
	store := newMemStore()
	org := seedOrg(store, "organization-test-acme")
	invID := uuid.New()
	store.invitations[invID] = &directory.Invitation{
		ID: invID, OrgID: org.ID, Email: "dr.lee@acme.example",
		Role: directory.RoleClinician, Status: directory.InvitationPending,
	}
	provider := &fakeIDP{staffClaims: &idp.StaffClaims{
		ProviderUserID:   "member-user-test-h1",
		ProviderMemberID: "member-test-h1",
		ProviderOrgID:    "organization-test-acme",
		Email:            "dr.lee@acme.example",
	}}
	svc, _ := newTestService(store, provider)
	h := NewHandler(svc)
	e := echo.New()

	c, rec := newVerifyContext(e, "/api/v1/auth/staff/verify", "Bearer session-token")
	if err := h.VerifyStaff(c); err != nil {
		t.Fatalf("VerifyStaff handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body StaffResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Role != directory.RoleClinician || body.OrgID != org.ID {
		t.Errorf("body = %+v, want clinician at %s", body, org.ID)
	}
}

func TestHandlerVerifyPatient(t *testing.T) {
	store := newMemStore()
	org := seedOrg(store, "organization-test-acme")
	user := &directory.User{ID: uuid.New(), ProviderUserID: "user-test-h2", Email: "pt@example.com"}
	store.users[user.ProviderUserID] = user
	store.memberships[ouKey(org.ID, user.ID)] = &directory.Membership{
		ID: uuid.New(), OrgID: org.ID, UserID: user.ID,
		Role: directory.RolePatient, Status: directory.MembershipActive,
	}
	provider := &fakeIDP{consumerClaims: &idp.ConsumerClaims{ProviderUserID: user.ProviderUserID}}
	svc, _ := newTestService(store, provider)
	h := NewHandler(svc)
	e := echo.New()

	c, rec := newVerifyContext(e, "/api/v1/auth/patient/verify", "Bearer session-token")
	if err := h.VerifyPatient(c); err != nil {
		t.Fatalf("VerifyPatient handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body PatientResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Kind != PatientSingleOrg || body.OrgID != org.ID {
		t.Errorf("body = %+v, want single org %s", body, org.ID)
	}
	if _, err := store.GetMembership(context.Background(), org.ID, user.ID); err != nil {
		t.Fatalf("membership lookup: %v", err)
	}
}
