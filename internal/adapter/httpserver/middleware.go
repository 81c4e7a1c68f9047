package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/dashpulse/internal/platform/correlation"
)

const maxRequestIDLength = 64

// correlationMiddleware reuses a caller-supplied X-Request-ID or mints one,
// and echoes it back on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(correlation.Header)
		if id == "" || len(id) > maxRequestIDLength {
			id = correlation.NewID()
		}

		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}
