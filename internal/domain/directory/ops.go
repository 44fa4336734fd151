package directory

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/db"
)

// AssistantProvisioner provisions a voice assistant for a new organization.
// Satisfied by *voice.Client; provisioning is skipped when not Enabled.
type AssistantProvisioner interface {
	Enabled() bool
	ProvisionAssistant(ctx context.Context, displayName string) (string, error)
}

// OpsService is the out-of-band provisioning band: organizations are created
// here by operations tooling, never by end-user flows.
type OpsService struct {
	orgs   OrganizationRepository
	voice  AssistantProvisioner
	logger zerolog.Logger
}

func NewOpsService(orgs OrganizationRepository, voice AssistantProvisioner, logger zerolog.Logger) *OpsService {
	return &OpsService{orgs: orgs, voice: voice, logger: logger}
}

// CreateOrganization provisions a tenant. Creating the same provider org
// twice returns the existing tenant instead of erroring, so ops scripts can
// re-run safely.
func (s *OpsService) CreateOrganization(ctx context.Context, name, providerOrgID string) (*Organization, error) {
	if existing, err := s.orgs.GetByProviderID(ctx, providerOrgID); err == nil {
		return existing, nil
	} else if !db.IsNoRows(err) {
		return nil, err
	}

	org := &Organization{Name: name, ProviderOrgID: providerOrgID}
	if err := s.orgs.Create(ctx, org); err != nil {
		if db.IsUniqueViolation(err) {
			return s.orgs.GetByProviderID(ctx, providerOrgID)
		}
		return nil, err
	}

	// Assistant provisioning is best-effort; a voice outage must not block
	// tenant creation.
	if s.voice != nil && s.voice.Enabled() {
		assistantID, err := s.voice.ProvisionAssistant(ctx, name)
		if err != nil {
			s.logger.Warn().Err(err).Str("org_id", org.ID.String()).
				Msg("voice assistant provisioning failed")
		} else {
			s.logger.Info().Str("org_id", org.ID.String()).
				Str("assistant_id", assistantID).
				Msg("voice assistant provisioned")
		}
	}

	return org, nil
}

type OpsHandler struct {
	svc *OpsService
}

func NewOpsHandler(svc *OpsService) *OpsHandler {
	return &OpsHandler{svc: svc}
}

// RegisterRoutes mounts the ops endpoints. The group must already be gated
// by the operations token middleware.
func (h *OpsHandler) RegisterRoutes(ops *echo.Group) {
	ops.POST("/organizations", h.CreateOrganization)
	// Server-to-server only.
	ops.OPTIONS("/organizations", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusMethodNotAllowed)
	})
}

type createOrganizationRequest struct {
	Name          string `json:"name"`
	ProviderOrgID string `json:"provider_org_id"`
}

// CreateOrganization handles POST /ops/organizations.
func (h *OpsHandler) CreateOrganization(c echo.Context) error {
	var req createOrganizationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.ProviderOrgID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and provider_org_id are required")
	}

	org, err := h.svc.CreateOrganization(c.Request().Context(), req.Name, req.ProviderOrgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, org)
}
