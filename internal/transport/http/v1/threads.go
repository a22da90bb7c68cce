package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// CreateAssistant registers an assistant.
// POST /v1/assistants
func (h *Handler) CreateAssistant(c echo.Context) error {
	var req domain.CreateAssistantRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	assistant, err := h.service.CreateAssistant(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, assistant)
}

// GetAssistant returns an assistant.
// GET /v1/assistants/:assistant_id
func (h *Handler) GetAssistant(c echo.Context) error {
	assistant, err := h.service.GetAssistant(c.Request().Context(), c.Param("assistant_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, assistant)
}

// ListAssistants lists registered assistants.
// GET /v1/assistants
func (h *Handler) ListAssistants(c echo.Context) error {
	opts, err := parseListOptions(c)
	if err != nil {
		return h.respondError(c, err)
	}
	page, err := h.service.ListAssistants(c.Request().Context(), opts)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// CreateThread creates a thread.
// POST /v1/threads
func (h *Handler) CreateThread(c echo.Context) error {
	var req domain.CreateThreadRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	thread, err := h.service.CreateThread(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

// GetThread returns a thread.
// GET /v1/threads/:thread_id
func (h *Handler) GetThread(c echo.Context) error {
	thread, err := h.service.GetThread(c.Request().Context(), c.Param("thread_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

// ModifyThread updates a thread's metadata.
// POST /v1/threads/:thread_id
func (h *Handler) ModifyThread(c echo.Context) error {
	var req domain.ModifyThreadRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	thread, err := h.service.ModifyThread(c.Request().Context(), c.Param("thread_id"), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

// DeleteThread deletes an idle thread.
// DELETE /v1/threads/:thread_id
func (h *Handler) DeleteThread(c echo.Context) error {
	status, err := h.service.DeleteThread(c.Request().Context(), c.Param("thread_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// CreateThreadAndRun creates a thread and starts a run on it.
// POST /v1/threads/runs
func (h *Handler) CreateThreadAndRun(c echo.Context) error {
	var req domain.CreateThreadAndRunRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()

	if req.Stream {
		_, sub, err := h.service.CreateThreadAndRunStream(ctx, req)
		if err != nil {
			return h.respondError(c, err)
		}
		return h.streamSSE(c, sub, true)
	}

	run, err := h.service.CreateThreadAndRun(ctx, req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}
