// Package v1 provides the /v1 HTTP handlers.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers the /v1 routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/assistants", h.CreateAssistant)
	e.GET("/v1/assistants", h.ListAssistants)
	e.GET("/v1/assistants/:assistant_id", h.GetAssistant)

	e.POST("/v1/threads", h.CreateThread)
	e.POST("/v1/threads/runs", h.CreateThreadAndRun)
	e.GET("/v1/threads/:thread_id", h.GetThread)
	e.POST("/v1/threads/:thread_id", h.ModifyThread)
	e.DELETE("/v1/threads/:thread_id", h.DeleteThread)

	e.POST("/v1/threads/:thread_id/messages", h.CreateMessage)
	e.GET("/v1/threads/:thread_id/messages", h.ListMessages)
	e.GET("/v1/threads/:thread_id/messages/:message_id", h.GetMessage)
	e.POST("/v1/threads/:thread_id/messages/:message_id", h.ModifyMessage)

	e.POST("/v1/threads/:thread_id/runs", h.CreateRun)
	e.GET("/v1/threads/:thread_id/runs", h.ListRuns)
	e.GET("/v1/threads/:thread_id/runs/:run_id", h.GetRun)
	e.POST("/v1/threads/:thread_id/runs/:run_id", h.ModifyRun)
	e.POST("/v1/threads/:thread_id/runs/:run_id/cancel", h.CancelRun)
	e.POST("/v1/threads/:thread_id/runs/:run_id/submit_tool_outputs", h.SubmitToolOutputs)
	e.GET("/v1/threads/:thread_id/runs/:run_id/steps", h.ListRunSteps)
	e.GET("/v1/threads/:thread_id/runs/:run_id/steps/:step_id", h.GetRunStep)
	e.GET("/v1/threads/:thread_id/runs/:run_id/events", h.RunEvents)
	e.GET("/v1/threads/:thread_id/runs/:run_id/ws", h.RunWebSocket)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err using the service error taxonomy.
func (h *Handler) respondError(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}
	return c.JSON(status, ErrorResponse{Error: ErrorDetail{Type: domain.ErrorType(err), Message: err.Error()}})
}

func (h *Handler) badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{Type: "invalid_request_error", Message: message}})
}

// parseListOptions reads order, after, before and limit from the query.
func parseListOptions(c echo.Context) (domain.ListOptions, error) {
	opts := domain.ListOptions{
		Order:  domain.ListOrder(c.QueryParam("order")),
		After:  c.QueryParam("after"),
		Before: c.QueryParam("before"),
	}
	if l := c.QueryParam("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil {
			return opts, domain.Validationf("limit must be an integer, got %q", l)
		}
		opts.Limit = limit
	}
	return opts, nil
}
