// Package ws relays the typed events of one streaming session to a WebSocket
// client. Each text frame carries one stream.Event as JSON; the connection is
// closed normally after the terminal event.
//
// The client may send {"type":"cancel"} to cancel the session.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentexec/logging"
	"github.com/hupe1980/agentexec/stream"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 45 * time.Second
	pingInterval    = 15 * time.Second
	maxMessageBytes = 1 << 16
)

// Subscriber attaches to a session's events.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan stream.Event, error)
}

// Canceler cancels a live session.
type Canceler interface {
	Cancel(ctx context.Context, sessionID string) bool
}

// Options configures a Handler.
type Options struct {
	// SessionID extracts the session id from the request. Defaults to the
	// "sessionId" path value, then the "sessionId" query parameter.
	SessionID func(r *http.Request) string
	// Canceler handles client cancel frames. Optional.
	Canceler Canceler
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
	Logger      logging.Logger
}

// Handler is an http.Handler serving session event streams.
type Handler struct {
	subscriber Subscriber
	opts       Options
	upgrader   websocket.Upgrader
	logger     logging.Logger
}

// NewHandler creates a handler relaying events obtained from subscriber.
func NewHandler(subscriber Subscriber, optFns ...func(o *Options)) *Handler {
	opts := Options{
		SessionID:   defaultSessionID,
		CheckOrigin: func(*http.Request) bool { return true },
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Handler{
		subscriber: subscriber,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 8192,
			CheckOrigin:     opts.CheckOrigin,
		},
		logger: logging.OrNop(opts.Logger),
	}
}

func defaultSessionID(r *http.Request) string {
	if id := r.PathValue("sessionId"); id != "" {
		return id
	}
	return r.URL.Query().Get("sessionId")
}

type clientFrame struct {
	Type string `json:"type"`
}

// ServeHTTP subscribes before upgrading. A Subscriber that reports
// stream.ErrSessionNotFound gets a 404 instead of a socket. stream.Manager
// accepts subscriptions ahead of Start, so with it the socket opens and waits
// for the session to begin.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := h.opts.SessionID(r)
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.subscriber.Subscribe(ctx, sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, stream.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	go h.readLoop(ctx, cancel, conn, sessionID)
	h.writeLoop(ctx, conn, sessionID, events)
}

// readLoop consumes client frames and cancels ctx when the peer goes away.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sessionID string) {
	defer cancel()
	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug("Ignoring malformed client frame", "session_id", sessionID)
			continue
		}
		if frame.Type == "cancel" && h.opts.Canceler != nil {
			h.opts.Canceler.Cancel(context.WithoutCancel(ctx), sessionID)
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sessionID string, events <-chan stream.Event) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Warn("Failed to write stream event", "session_id", sessionID, "type", ev.Type, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
