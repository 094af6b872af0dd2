package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dmcore/internal/service"
)

const writeWait = 10 * time.Second

// PendingStore keeps events for users with no live connection.
type PendingStore interface {
	Push(ctx context.Context, userID string, payload []byte) error
	// Drain returns and removes everything queued for userID, oldest first.
	Drain(ctx context.Context, userID string) ([][]byte, error)
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// write serializes writers; gorilla connections allow one at a time.
func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Hub manages active WebSocket connections keyed by user ID. It implements
// service.Notifier; events for offline users go to the pending store when
// one is configured.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]map[*client]struct{}
	pending PendingStore
	log     *zap.Logger
}

var _ service.Notifier = (*Hub)(nil)

func NewHub(log *zap.Logger, pending PendingStore) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conns:   make(map[string]map[*client]struct{}),
		pending: pending,
		log:     log,
	}
}

// register adds a connection for the given user.
func (h *Hub) register(userID string, conn *websocket.Conn) *client {
	c := &client{conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*client]struct{})
	}
	h.conns[userID][c] = struct{}{}
	return c
}

// unregister removes a connection for the given user.
func (h *Hub) unregister(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.conns[userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
}

// Online reports whether the user has at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

func (h *Hub) clients(userID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		out = append(out, c)
	}
	return out
}

// Notify pushes a service event to its recipients.
func (h *Hub) Notify(ctx context.Context, ev service.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("ws: marshal event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	h.deliver(ctx, ev.Recipients, data, true)
}

// SendToUsers pushes an ephemeral payload to users that are online.
// Nothing is queued for offline users.
func (h *Hub) SendToUsers(userIDs []string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("ws: marshal payload", zap.Error(err))
		return
	}
	h.deliver(context.Background(), userIDs, data, false)
}

func (h *Hub) deliver(ctx context.Context, userIDs []string, data []byte, queue bool) {
	for _, uid := range userIDs {
		clients := h.clients(uid)
		if len(clients) == 0 {
			if queue && h.pending != nil {
				if err := h.pending.Push(ctx, uid, data); err != nil {
					h.log.Warn("ws: queue pending event", zap.String("user_id", uid), zap.Error(err))
				}
			}
			continue
		}
		for _, c := range clients {
			if err := c.write(data); err != nil {
				// the read loop notices the closed socket and unregisters it
				_ = c.conn.Close()
			}
		}
	}
}

// flushPending sends every queued event for userID to c.
func (h *Hub) flushPending(ctx context.Context, userID string, c *client) {
	if h.pending == nil {
		return
	}
	queued, err := h.pending.Drain(ctx, userID)
	if err != nil {
		h.log.Warn("ws: drain pending events", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, data := range queued {
		if err := c.write(data); err != nil {
			h.log.Warn("ws: flush pending event", zap.String("user_id", userID), zap.Error(err))
			return
		}
	}
}
