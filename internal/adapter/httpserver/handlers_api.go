package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/dashpulse/internal/app"
	"github.com/pscheid92/dashpulse/internal/domain"
	apperrors "github.com/pscheid92/dashpulse/internal/platform/errors"
)

const ingestBurstFactor = 2

type createEventRequest struct {
	Category domain.Category `json:"event_type"`
	Identity string          `json:"user_id"`
	Data     json.RawMessage `json:"data"`
}

type eventsPage struct {
	Events []domain.Event `json:"events"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

func (s *Server) registerAPIRoutes() {
	burst := max(int(s.config.IngestRateLimit*ingestBurstFactor), 1)
	ingestLimiter := newIngestLimiter(s.config.IngestRateLimit, burst)

	api := s.echo.Group("/api")
	api.POST("/events", s.handleCreateEvent, ingestLimiter)
	api.GET("/events", s.handleListEvents)
	api.GET("/events/:id", s.handleGetEvent)
	api.GET("/stats", s.handleStats)
	api.GET("/stats/summary", s.handleHistorySummary)
	api.GET("/users/:id/activity", s.handleActivity)

	if s.deps.Jobs != nil {
		api.POST("/tasks/:name/run", s.handleRunTask)
	}
}

func (s *Server) handleCreateEvent(c echo.Context) error {
	var req createEventRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	stored, err := s.deps.App.RecordEvent(c.Request().Context(), domain.Event{
		Identity: req.Identity,
		Category: req.Category,
		Data:     req.Data,
	})
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, stored); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListEvents(c echo.Context) error {
	offset, limit := 0, app.DefaultPageSize
	if err := echo.QueryParamsBinder(c).Int("offset", &offset).Int("limit", &limit).BindError(); err != nil {
		return apperrors.ValidationError("offset and limit must be integers")
	}
	if offset < 0 || limit < 1 || limit > app.MaxPageSize {
		return apperrors.ValidationError(fmt.Sprintf("offset must be >= 0 and limit between 1 and %d", app.MaxPageSize)).
			WithContext("offset", offset).
			WithContext("limit", limit)
	}

	events, err := s.deps.App.RecentEvents(c.Request().Context(), offset, limit)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, eventsPage{Events: events, Offset: offset, Limit: limit}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetEvent(c echo.Context) error {
	var id int64
	if err := echo.PathParamsBinder(c).Int64("id", &id).BindError(); err != nil || id < 1 {
		return apperrors.ValidationError("event id must be a positive integer").WithContext("id", c.Param("id"))
	}

	event, err := s.deps.App.Event(c.Request().Context(), id)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, event); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStats(c echo.Context) error {
	snap, err := s.deps.App.Stats(c.Request().Context())
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, snap); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleHistorySummary(c echo.Context) error {
	sum, err := s.deps.App.HistorySummary(c.Request().Context())
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, sum); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleActivity(c echo.Context) error {
	identity := c.Param("id")
	if identity == "" {
		return apperrors.ValidationError("user id is required")
	}

	limit := domain.MaxActivityEntries
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return apperrors.ValidationError("limit must be an integer")
	}

	records, err := s.deps.App.Activity(c.Request().Context(), identity, limit)
	if err != nil {
		return err
	}

	response := map[string]any{
		"user_id":  identity,
		"activity": records,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRunTask(c echo.Context) error {
	name := c.Param("name")

	result, err := s.deps.Jobs.Trigger(c.Request().Context(), name)
	if errors.Is(err, app.ErrUnknownJob) {
		return apperrors.NotFoundError("unknown task").WithContext("task", name)
	}
	if err != nil {
		return apperrors.InternalError("failed to run task", err).WithContext("task", name)
	}

	status := http.StatusOK
	if result.Status == app.JobError {
		status = http.StatusInternalServerError
	}
	if err := c.JSON(status, result); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
