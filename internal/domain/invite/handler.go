package invite

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/domain/directory"
	"github.com/carelink/carelink/internal/domain/reconcile"
	"github.com/carelink/carelink/internal/platform/apperr"
)

// StaffVerifier authenticates the caller's staff session. Satisfied by
// *reconcile.Service, so an invitation call reconciles the actor's own
// membership before acting on others.
type StaffVerifier interface {
	VerifyStaff(ctx context.Context, token string) (*reconcile.StaffResult, error)
}

type Handler struct {
	svc      *Service
	verifier StaffVerifier
}

func NewHandler(svc *Service, verifier StaffVerifier) *Handler {
	return &Handler{svc: svc, verifier: verifier}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/invitations/staff", h.InviteStaff)
	api.POST("/invitations/patient", h.InvitePatient)
	api.GET("/invitations", h.ListInvitations)
}

type staffInviteRequest struct {
	Email string         `json:"email"`
	Role  directory.Role `json:"role"`
}

type patientInviteRequest struct {
	Email       string  `json:"email"`
	LegalName   *string `json:"legal_name,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
}

// InviteStaff handles POST /invitations/staff.
func (h *Handler) InviteStaff(c echo.Context) error {
	actor, err := h.authenticate(c)
	if err != nil {
		return err
	}

	var req staffInviteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}
	if !req.Role.Valid() || !req.Role.IsStaff() {
		return echo.NewHTTPError(http.StatusBadRequest, "role must be org_admin or clinician")
	}

	inv, err := h.svc.InviteStaff(c.Request().Context(), actor, req.Email, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inv)
}

// InvitePatient handles POST /invitations/patient.
func (h *Handler) InvitePatient(c echo.Context) error {
	actor, err := h.authenticate(c)
	if err != nil {
		return err
	}

	var req patientInviteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}
	if req.DateOfBirth != nil {
		if _, err := time.Parse("2006-01-02", *req.DateOfBirth); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD")
		}
	}

	inv, err := h.svc.InvitePatient(c.Request().Context(), actor, req.Email, req.LegalName, req.DateOfBirth)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inv)
}

// ListInvitations handles GET /invitations.
func (h *Handler) ListInvitations(c echo.Context) error {
	actor, err := h.authenticate(c)
	if err != nil {
		return err
	}
	invs, err := h.svc.ListInvitations(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	if invs == nil {
		invs = []*directory.Invitation{}
	}
	return c.JSON(http.StatusOK, map[string]any{"invitations": invs})
}

func (h *Handler) authenticate(c echo.Context) (Actor, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return Actor{}, apperr.New(apperr.KindAuthInvalid, "authorization header must be a bearer token")
	}
	result, err := h.verifier.VerifyStaff(c.Request().Context(), strings.TrimSpace(token))
	if err != nil {
		return Actor{}, err
	}
	return Actor{UserID: result.UserID, OrgID: result.OrgID, Role: result.Role}, nil
}
