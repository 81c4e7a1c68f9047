package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/dashpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsStructuredError_MapsDomainSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid event", fmt.Errorf("%w: bad category", domain.ErrInvalidEvent), http.StatusBadRequest},
		{"store down", fmt.Errorf("%w: increment: dial tcp", domain.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{"bad token", domain.ErrAuthInvalid, http.StatusUnauthorized},
		{"no history", domain.ErrHistoryUnavailable, http.StatusNotFound},
		{"event not found", fmt.Errorf("get event: %w", domain.ErrEventNotFound), http.StatusNotFound},
		{"anything else", fmt.Errorf("boom"), http.StatusInternalServerError},
		{"already structured", RateLimitedError("slow down"), http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, AsStructuredError(tt.err).HTTPStatus())
		})
	}
	assert.Nil(t, AsStructuredError(nil))
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	err := UnavailableError("counter store unavailable", domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "unavailable")
}

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "errors_total"}, []string{"type"})
}

func TestMiddleware_WritesStructuredResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/events", nil), rec)
	counter := newCounter()

	handler := Middleware(counter)(func(echo.Context) error {
		return ValidationError("event_type is required").WithContext("field", "event_type")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "event_type is required", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "event_type", resp.Context["field"])
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("validation")))
}

func TestMiddleware_PassesEchoErrorsThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	counter := newCounter()

	handler := Middleware(counter)(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	})

	err := handler(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("rate_limited")))
}

func TestMiddleware_NoError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	handler := Middleware(newCounter())(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
