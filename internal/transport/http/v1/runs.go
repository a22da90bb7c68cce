package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// CreateRun starts a run. With "stream": true the response is an SSE stream
// that ends when the run finishes or requires action.
// POST /v1/threads/:thread_id/runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req domain.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()
	threadID := c.Param("thread_id")

	if req.Stream {
		_, sub, err := h.service.CreateRunStream(ctx, threadID, req)
		if err != nil {
			return h.respondError(c, err)
		}
		return h.streamSSE(c, sub, true)
	}

	run, err := h.service.CreateRun(ctx, threadID, req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// ListRuns lists a thread's runs.
// GET /v1/threads/:thread_id/runs
func (h *Handler) ListRuns(c echo.Context) error {
	opts, err := parseListOptions(c)
	if err != nil {
		return h.respondError(c, err)
	}
	page, err := h.service.ListRuns(c.Request().Context(), c.Param("thread_id"), opts)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// GetRun returns the current snapshot of a run.
// GET /v1/threads/:thread_id/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.RetrieveRun(c.Request().Context(), c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// ModifyRun replaces a run's metadata.
// POST /v1/threads/:thread_id/runs/:run_id
func (h *Handler) ModifyRun(c echo.Context) error {
	var req domain.ModifyRunRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	run, err := h.service.ModifyRun(c.Request().Context(), c.Param("thread_id"), c.Param("run_id"), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun cancels a run.
// POST /v1/threads/:thread_id/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	run, err := h.service.CancelRun(c.Request().Context(), c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// SubmitToolOutputs resolves the pending tool calls of a run.
// POST /v1/threads/:thread_id/runs/:run_id/submit_tool_outputs
func (h *Handler) SubmitToolOutputs(c echo.Context) error {
	var req domain.SubmitToolOutputsRequest
	if err := c.Bind(&req); err != nil {
		return h.badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()
	threadID, runID := c.Param("thread_id"), c.Param("run_id")

	if req.Stream {
		_, sub, err := h.service.SubmitToolOutputsStream(ctx, threadID, runID, req)
		if err != nil {
			return h.respondError(c, err)
		}
		return h.streamSSE(c, sub, true)
	}

	run, err := h.service.SubmitToolOutputs(ctx, threadID, runID, req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// ListRunSteps lists a run's steps.
// GET /v1/threads/:thread_id/runs/:run_id/steps
func (h *Handler) ListRunSteps(c echo.Context) error {
	opts, err := parseListOptions(c)
	if err != nil {
		return h.respondError(c, err)
	}
	page, err := h.service.ListRunSteps(c.Request().Context(), c.Param("thread_id"), c.Param("run_id"), opts)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// GetRunStep returns one step of a run.
// GET /v1/threads/:thread_id/runs/:run_id/steps/:step_id
func (h *Handler) GetRunStep(c echo.Context) error {
	step, err := h.service.RetrieveRunStep(c.Request().Context(), c.Param("thread_id"), c.Param("run_id"), c.Param("step_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, step)
}
