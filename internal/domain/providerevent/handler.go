package providerevent

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// SignatureHeader carries "<unix_ts>,<hex_hmac>" on provider deliveries.
const SignatureHeader = "X-Provider-Signature"

const maxBodyBytes = 1 << 20

type Handler struct {
	svc    *Service
	secret string
	now    func() time.Time
}

func NewHandler(svc *Service, secret string) *Handler {
	return &Handler{svc: svc, secret: secret, now: time.Now}
}

func (h *Handler) RegisterRoutes(root *echo.Group) {
	root.POST("/webhooks/provider", h.Receive)
	// Server-to-server only: no browser ever preflights this endpoint.
	root.OPTIONS("/webhooks/provider", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusMethodNotAllowed)
	})
}

// Receive handles POST /webhooks/provider. The signature is verified over
// the raw body before any parsing.
func (h *Handler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return apperr.Wrap(apperr.KindWebhookValidation, "read event body", err)
	}

	sig := c.Request().Header.Get(SignatureHeader)
	if err := VerifySignature(sig, body, h.secret, h.now()); err != nil {
		return err
	}

	ev, err := ParseEvent(body)
	if err != nil {
		return err
	}

	if err := h.svc.Process(c.Request().Context(), ev); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "processed"})
}
