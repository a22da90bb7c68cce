package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/stream"
)

// RunEvents streams a run's events as SSE until the run reaches a terminal
// status. A run that already finished yields an empty stream.
// GET /v1/threads/:thread_id/runs/:run_id/events
func (h *Handler) RunEvents(c echo.Context) error {
	sub, err := h.service.SubscribeRun(c.Request().Context(), c.Param("thread_id"), c.Param("run_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return h.streamSSE(c, sub, false)
}

// streamSSE writes sub's events to the response. With untilAction the stream
// also ends after run.requires_action, so the client can submit tool outputs
// and open a new stream for the continuation.
func (h *Handler) streamSSE(c echo.Context, sub *stream.Subscription, untilAction bool) error {
	defer sub.Close()

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return writeDone(w)
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("sse write failed", "run_id", ev.RunID, "error", err)
				return nil
			}
			if untilAction && ev.Type == domain.EventTypeRunRequiresAction {
				return writeDone(w)
			}
		}
	}
}

func writeEvent(w *echo.Response, ev domain.StreamEvent) error {
	data, err := json.Marshal(ev.Data())
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func writeDone(w *echo.Response) error {
	if _, err := fmt.Fprint(w, "event: done\ndata: [DONE]\n\n"); err == nil {
		w.Flush()
	}
	return nil
}
