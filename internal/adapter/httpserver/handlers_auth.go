package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/dashpulse/internal/platform/errors"
)

type tokenRequest struct {
	Identity string `json:"user_id"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// registerAuthRoutes exposes token issuance outside production only. Real
// deployments mint dashboard credentials elsewhere with the shared secret.
func (s *Server) registerAuthRoutes() {
	if s.deps.Issuer == nil || s.config.IsProduction() {
		return
	}
	s.echo.POST("/api/auth/token", s.handleIssueToken)
}

func (s *Server) handleIssueToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Identity == "" {
		return apperrors.ValidationError("user_id is required")
	}

	token, exp, err := s.deps.Issuer.Issue(req.Identity)
	if err != nil {
		return apperrors.InternalError("failed to issue token", err)
	}

	if err := c.JSON(http.StatusOK, tokenResponse{Token: token, ExpiresAt: exp}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
