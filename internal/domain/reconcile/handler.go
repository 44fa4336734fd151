package reconcile

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/staff/verify", h.VerifyStaff)
	api.POST("/auth/patient/verify", h.VerifyPatient)
}

// VerifyStaff handles POST /auth/staff/verify.
func (h *Handler) VerifyStaff(c echo.Context) error {
	token, err := bearerToken(c)
	if err != nil {
		return err
	}
	result, err := h.svc.VerifyStaff(c.Request().Context(), token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// VerifyPatient handles POST /auth/patient/verify.
func (h *Handler) VerifyPatient(c echo.Context) error {
	token, err := bearerToken(c)
	if err != nil {
		return err
	}
	result, err := h.svc.VerifyPatient(c.Request().Context(), token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", apperr.New(apperr.KindAuthInvalid, "missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", apperr.New(apperr.KindAuthInvalid, "authorization header must be a bearer token")
	}
	return strings.TrimSpace(token), nil
}
