package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// Recovery converts handler panics into classified internal errors so a
// single bad request cannot take the process down. The stack is logged with
// the request id; the client sees only the generic internal message.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Str("request_id", rid).
					Str("path", c.Request().URL.Path).
					Bytes("stack", debug.Stack()).
					Msgf("panic recovered: %v", r)

				err = apperr.Wrap(apperr.KindInternal, "internal server error",
					fmt.Errorf("panic: %v", r))
			}()
			return next(c)
		}
	}
}
