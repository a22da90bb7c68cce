package v1

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/stream"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 64 * 1024
)

// Client message types accepted on a run socket.
const (
	wsTypeCancelRun         = "cancel_run"
	wsTypeSubmitToolOutputs = "submit_tool_outputs"
	wsTypeError             = "error"
)

type wsClientMessage struct {
	Type        string              `json:"type"`
	ToolOutputs []domain.ToolOutput `json:"tool_outputs,omitempty"`
}

type wsErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// RunWebSocket streams a run's events over a WebSocket until the run reaches a
// terminal status. The client may cancel the run or submit tool outputs on the
// same socket; the resulting events arrive on the stream.
// GET /v1/threads/:thread_id/runs/:run_id/ws
func (h *Handler) RunWebSocket(c echo.Context) error {
	threadID, runID := c.Param("thread_id"), c.Param("run_id")
	ctx := c.Request().Context()

	sub, err := h.service.SubscribeRun(ctx, threadID, runID)
	if err != nil {
		return h.respondError(c, err)
	}
	defer sub.Close()

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "run_id", runID, "error", err)
		return nil
	}
	conn := &wsConn{conn: ws}
	defer ws.Close()

	go h.readPump(ctx, conn, sub, threadID, runID)
	h.writePump(conn, sub)
	return nil
}

// readPump handles client messages until the socket fails, then detaches sub.
func (h *Handler) readPump(ctx context.Context, conn *wsConn, sub *stream.Subscription, threadID, runID string) {
	defer sub.Close()

	conn.conn.SetReadLimit(wsMaxMessageSize)
	conn.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.conn.SetPongHandler(func(string) error {
		conn.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "run_id", runID, "error", err)
			}
			return
		}
		h.handleMessage(ctx, conn, threadID, runID, data)
	}
}

// writePump forwards events and keeps the connection alive with pings.
func (h *Handler) writePump(conn *wsConn, sub *stream.Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				conn.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
			if err := conn.writeJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", "run_id", ev.RunID, "error", err)
				return
			}
		case <-sub.Done():
			return
		case <-ticker.C:
			if err := conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *wsConn, threadID, runID string, data []byte) {
	var msg wsClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(conn, "invalid_request_error", "invalid JSON message")
		return
	}

	var err error
	switch msg.Type {
	case wsTypeCancelRun:
		_, err = h.service.CancelRun(ctx, threadID, runID)
	case wsTypeSubmitToolOutputs:
		_, err = h.service.SubmitToolOutputs(ctx, threadID, runID, domain.SubmitToolOutputsRequest{
			ToolOutputs: msg.ToolOutputs,
		})
	default:
		h.sendError(conn, "invalid_request_error", "unknown message type: "+msg.Type)
		return
	}
	if err != nil {
		h.sendError(conn, domain.ErrorType(err), err.Error())
	}
}

func (h *Handler) sendError(conn *wsConn, code, message string) {
	if err := conn.writeJSON(wsErrorMessage{Type: wsTypeError, Code: code, Message: message}); err != nil {
		h.logger.Debug("websocket error reply failed", "error", err)
	}
}
