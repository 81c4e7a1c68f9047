package httpserver

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/dashpulse/internal/platform/errors"
	"golang.org/x/time/rate"
)

// Idle per-IP buckets are evicted after this long.
const ingestBucketExpiry = 5 * time.Minute

// newIngestLimiter throttles event ingestion per client IP. Denials are
// returned as structured rate_limited errors with a Retry-After hint so
// they flow through the same error middleware as handler failures.
func newIngestLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(1 / perSecond)))

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(perSecond),
			Burst:     burst,
			ExpiresIn: ingestBucketExpiry,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			return apperrors.RateLimitedError("rate limit exceeded").WithContext("route", c.Path())
		},
	})
}
