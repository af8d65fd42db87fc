package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum command size accepted from a websocket peer.
	maxMessageSize = 512 * 1024

	defaultHeartbeat = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamHandlers pushes broadcast events to SSE and websocket observers.
type StreamHandlers struct {
	events    EventSource
	processes ProcessService
	heartbeat time.Duration
	logger    *logger.Logger
}

// RegisterStreamRoutes mounts GET /api/processes/events (SSE) and
// GET /api/processes/ws (websocket).
func RegisterStreamRoutes(router *gin.Engine, source EventSource, processes ProcessService, heartbeat time.Duration, log *logger.Logger) {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	h := &StreamHandlers{
		events:    source,
		processes: processes,
		heartbeat: heartbeat,
		logger:    log.WithFields(zap.String("component", "event-stream")),
	}
	router.GET("/api/processes/events", h.httpEventStream)
	router.GET("/api/processes/ws", h.wsEventStream)
}

// httpEventStream streams every broadcast event as an SSE message. The
// stream ends when the client disconnects or the observer is detached.
func (h *StreamHandlers) httpEventStream(c *gin.Context) {
	obs := h.events.Attach()
	defer h.events.Detach(obs)

	log := h.logger.WithFields(zap.String("observer_id", obs.ID()))
	log.Debug("sse observer connected", zap.String("remote_addr", c.Request.RemoteAddr))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-obs.C():
			if !ok {
				if obs.Overflowed() {
					log.Warn("sse observer fell behind, closing stream")
				}
				return false
			}
			c.SSEvent("message", evt)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": heartbeat\n\n")
			return err == nil
		}
	})
	log.Debug("sse observer disconnected")
}

// wsCommand is a message sent by a websocket peer.
type wsCommand struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"` // input, resize or kill
	ProcessID string `json:"processId"`
	Input     string `json:"input,omitempty"`
	Cols      uint16 `json:"cols,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
}

// wsReply acknowledges a wsCommand.
type wsReply struct {
	Type      string `json:"type"` // ack or error
	ID        string `json:"id,omitempty"`
	ProcessID string `json:"processId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// wsEventStream carries the same events as the SSE stream and also accepts
// input, resize and kill commands from the peer.
func (h *StreamHandlers) wsEventStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	obs := h.events.Attach()
	log := h.logger.WithFields(zap.String("observer_id", obs.ID()))
	log.Debug("websocket observer connected", zap.String("remote_addr", c.Request.RemoteAddr))

	replies := make(chan wsReply, 16)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(conn, obs, replies, done, log)
	}()

	h.readPump(c, conn, replies, log)

	close(done)
	h.events.Detach(obs)
	wg.Wait()
	_ = conn.Close()
	log.Debug("websocket observer disconnected")
}

func (h *StreamHandlers) readPump(c *gin.Context, conn *websocket.Conn, replies chan<- wsReply, log *logger.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := c.Request.Context()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			h.reply(replies, wsReply{Type: "error", Error: "invalid message format", Code: apperrors.ErrCodeValidationError})
			continue
		}

		var cmdErr error
		switch cmd.Type {
		case "input":
			cmdErr = h.processes.Write(ctx, cmd.ProcessID, cmd.Input)
		case "resize":
			cmdErr = h.processes.Resize(ctx, cmd.ProcessID, cmd.Cols, cmd.Rows)
		case "kill":
			cmdErr = h.processes.Kill(ctx, cmd.ProcessID)
		default:
			cmdErr = apperrors.ValidationError("type", "unknown command "+cmd.Type)
		}

		reply := wsReply{Type: "ack", ID: cmd.ID, ProcessID: cmd.ProcessID, Success: cmdErr == nil}
		if cmdErr != nil {
			reply.Type = "error"
			reply.Error = errorMessage(cmdErr)
			reply.Code = apperrors.CodeOf(cmdErr)
		}
		h.reply(replies, reply)
	}
}

func (h *StreamHandlers) reply(replies chan<- wsReply, r wsReply) {
	select {
	case replies <- r:
	default:
		h.logger.Warn("websocket reply buffer full, dropping reply", zap.String("type", r.Type))
	}
}

// writePump is the only writer on conn. It stops when the observer is
// detached or done is closed.
func (h *StreamHandlers) writePump(conn *websocket.Conn, obs *events.Observer, replies <-chan wsReply, done <-chan struct{}, log *logger.Logger) {
	pingPeriod := h.heartbeat
	if limit := pongWait * 9 / 10; pingPeriod > limit {
		pingPeriod = limit
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v) == nil
	}

	for {
		select {
		case <-done:
			return
		case evt, ok := <-obs.C():
			if !ok {
				if obs.Overflowed() {
					log.Warn("websocket observer fell behind, closing stream")
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				// Unblock readPump.
				_ = conn.Close()
				return
			}
			if !write(evt) {
				_ = conn.Close()
				return
			}
		case r := <-replies:
			if !write(r) {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
