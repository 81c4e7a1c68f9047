package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/dashpulse/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestLimiter(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		burst   int
		addrs   []string
		allowed []bool
	}{
		{
			name:    "under burst",
			rate:    10,
			burst:   3,
			addrs:   []string{"1.2.3.4:1", "1.2.3.4:2", "1.2.3.4:3"},
			allowed: []bool{true, true, true},
		},
		{
			name:    "over burst",
			rate:    0.01,
			burst:   1,
			addrs:   []string{"1.2.3.4:1", "1.2.3.4:2"},
			allowed: []bool{true, false},
		},
		{
			name:    "separate buckets per ip",
			rate:    0.01,
			burst:   1,
			addrs:   []string{"1.2.3.4:1", "5.6.7.8:1", "1.2.3.4:2"},
			allowed: []bool{true, true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			handler := newIngestLimiter(tt.rate, tt.burst)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})

			for i, addr := range tt.addrs {
				req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
				req.RemoteAddr = addr
				rec := httptest.NewRecorder()

				err := handler(e.NewContext(req, rec))
				if tt.allowed[i] {
					require.NoError(t, err, "request %d from %s", i, addr)
					assert.Equal(t, http.StatusOK, rec.Code)
					continue
				}

				var appErr *apperrors.Error
				require.ErrorAs(t, err, &appErr, "request %d from %s", i, addr)
				assert.Equal(t, apperrors.TypeRateLimited, appErr.Type)
				assert.Equal(t, "100", rec.Header().Get("Retry-After"))
			}
		})
	}
}
