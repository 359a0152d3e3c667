// Package live publishes session state to local clients over HTTP and
// websockets.
package live

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"podium/internal/domain"
)

const writeWait = 2 * time.Second

// Snapshot is the full view pushed to every client. Each message replaces
// the previous one.
type Snapshot struct {
	State       *domain.SessionState      `json:"state,omitempty"`
	Reason      domain.SessionStateReason `json:"reason,omitempty"`
	RemainingMs int64                     `json:"remainingMs"`
	Error       *domain.ErrorInfo         `json:"error,omitempty"`
	Sequence    uint64                    `json:"sequence"`
}

// Hub is an event sink that fans the latest snapshot out to websocket
// clients. Slow clients skip intermediate snapshots.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	latest  Snapshot
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan Snapshot
}

// NewHub accepts websocket upgrades from the allowed origins. An empty list
// or "*" allows every origin.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{logger: logger, clients: make(map[*client]struct{})}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

// SessionStateChanged records the new state and publishes it.
func (h *Hub) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	h.update(func(s *Snapshot) {
		cloned := state.Clone()
		s.State = &cloned
		s.Reason = reason
		s.RemainingMs = state.RemainingMs
		s.Error = cloned.LastError
	})
}

// CountdownTick refreshes the remaining time of the current phase.
func (h *Hub) CountdownTick(sessionID string, phase domain.Phase, remaining time.Duration) {
	h.update(func(s *Snapshot) {
		if s.State == nil || s.State.SessionID != sessionID || s.State.Phase != phase {
			return
		}
		s.RemainingMs = remaining.Milliseconds()
		s.State.RemainingMs = s.RemainingMs
	})
}

// SessionError publishes an error alongside the current state.
func (h *Hub) SessionError(code domain.ErrorCode, detail string) {
	h.update(func(s *Snapshot) {
		s.Error = &domain.ErrorInfo{Code: code, Message: detail, Detail: detail}
	})
}

// Latest returns the most recent snapshot.
func (h *Hub) Latest() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneSnapshot(h.latest)
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams snapshots until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan Snapshot, 1)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	c.send <- cloneSnapshot(h.latest)
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
	}
}

func (h *Hub) update(fn func(*Snapshot)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn(&h.latest)
	h.latest.Sequence++
	snap := cloneSnapshot(h.latest)
	for c := range h.clients {
		offer(c.send, snap)
	}
}

// offer replaces any undelivered snapshot with snap.
func offer(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for snap := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(snap); err != nil {
			h.logger.Debug("websocket write failed", "err", err)
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
		time.Now().Add(writeWait),
	)
}

// readLoop discards client frames and notices disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	if s.State != nil {
		state := s.State.Clone()
		out.State = &state
	}
	if s.Error != nil {
		info := *s.Error
		out.Error = &info
	}
	return out
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
