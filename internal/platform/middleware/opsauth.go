package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// OpsToken gates server-to-server administrative endpoints behind a static
// bearer token. The comparison is constant time.
func OpsToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, presented, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				return apperr.New(apperr.KindAuthInvalid, "missing operations token")
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
				return apperr.New(apperr.KindAuthInvalid, "invalid operations token")
			}
			return next(c)
		}
	}
}
