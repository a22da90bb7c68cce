package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// CreateMessage appends a message to a thread.
// POST /v1/threads/:thread_id/messages
func (h *Handler) CreateMessage(c echo.Context) error {
	var req domain.CreateMessageRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	msg, err := h.service.CreateMessage(c.Request().Context(), c.Param("thread_id"), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

// ListMessages lists a thread's messages.
// GET /v1/threads/:thread_id/messages
func (h *Handler) ListMessages(c echo.Context) error {
	opts, err := parseListOptions(c)
	if err != nil {
		return h.respondError(c, err)
	}
	page, err := h.service.ListMessages(c.Request().Context(), c.Param("thread_id"), opts)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// GetMessage returns one message.
// GET /v1/threads/:thread_id/messages/:message_id
func (h *Handler) GetMessage(c echo.Context) error {
	msg, err := h.service.GetMessage(c.Request().Context(), c.Param("thread_id"), c.Param("message_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

// ModifyMessage updates a message's metadata.
// POST /v1/threads/:thread_id/messages/:message_id
func (h *Handler) ModifyMessage(c echo.Context) error {
	var req domain.ModifyMessageRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	msg, err := h.service.ModifyMessage(c.Request().Context(), c.Param("thread_id"), c.Param("message_id"), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}
