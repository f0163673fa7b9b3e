// Package realtime is the server side of the live channel: a thread-centric
// websocket hub, per-connection read/write pumps, a Redis pub/sub fanout and
// a Redis-backed presence tracker.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NahoooMac/wedhabesha-sub005/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const maxConnsPerUser = 8

// ThreadEvent is the frame broadcast to thread members.
type ThreadEvent struct {
	Type     string `json:"type"` // message:new, message:read, message:delivered, typing, presence
	ThreadID uint   `json:"thread_id,omitempty"`
	UserID   uint   `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// Thread event types, mirrored by the device-side client.
const (
	EventMessageNew       = "message:new"
	EventMessageRead      = "message:read"
	EventMessageDelivered = "message:delivered"
	EventMessageDeleted   = "message:deleted"
	EventTyping           = "typing"
	EventPresence         = "presence"
)

// Hub tracks which users are connected and which thread each one is
// actively viewing. It is thread-centric: broadcast targets are thread
// rooms, and "viewing" membership doubles as the reminder scheduler's
// default read-state signal.
type Hub struct {
	mu sync.RWMutex

	// threadID -> set of member userIDs currently viewing
	threads map[uint]map[uint]struct{}

	// userID -> set of thread IDs they are viewing
	viewing map[uint]map[uint]struct{}

	// userID -> set of active clients (multiple tabs/devices)
	conns map[uint]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		threads: make(map[uint]map[uint]struct{}),
		viewing: make(map[uint]map[uint]struct{}),
		conns:   make(map[uint]map[*Client]struct{}),
	}
}

// Register attaches a websocket connection for the user. Returns an error
// when the per-user connection limit is exceeded.
func (h *Hub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*Client]struct{})
	}
	if len(h.conns[userID]) >= maxConnsPerUser {
		return nil, fmt.Errorf("user connection limit reached")
	}

	client := newClient(h, conn, userID)
	h.conns[userID][client] = struct{}{}
	observability.WebSocketConnectionsTotal.Inc()

	slog.Info("live channel: client registered",
		slog.Uint64("user_id", uint64(userID)),
		slog.Int("active_clients", len(h.conns[userID])),
	)
	return client, nil
}

// Unregister detaches a client. Thread membership is dropped only when the
// user's last connection goes away.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()

	clients, ok := h.conns[client.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	observability.WebSocketConnectionsTotal.Dec()

	if len(clients) > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.conns, client.UserID)

	for threadID := range h.viewing[client.UserID] {
		if members, ok := h.threads[threadID]; ok {
			delete(members, client.UserID)
			if len(members) == 0 {
				delete(h.threads, threadID)
			}
		}
	}
	delete(h.viewing, client.UserID)
	h.mu.Unlock()

	slog.Info("live channel: user disconnected", slog.Uint64("user_id", uint64(client.UserID)))
}

// JoinThread marks the user as actively viewing a thread.
func (h *Hub) JoinThread(userID, threadID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[userID]; !ok {
		return
	}
	if h.threads[threadID] == nil {
		h.threads[threadID] = make(map[uint]struct{})
	}
	h.threads[threadID][userID] = struct{}{}

	if h.viewing[userID] == nil {
		h.viewing[userID] = make(map[uint]struct{})
	}
	h.viewing[userID][threadID] = struct{}{}
}

// LeaveThread clears the user's viewing state for a thread.
func (h *Hub) LeaveThread(userID, threadID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.threads[threadID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.threads, threadID)
		}
	}
	if threads, ok := h.viewing[userID]; ok {
		delete(threads, threadID)
	}
}

// BroadcastToThread fans an event out to every member viewing the thread,
// across all their devices.
func (h *Hub) BroadcastToThread(threadID uint, event ThreadEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.threads[threadID]
	if !ok {
		return
	}

	raw, err := json.Marshal(event)
	if err != nil {
		slog.Error("live channel: marshal failed", slog.String("error", err.Error()))
		return
	}

	for userID := range members {
		for client := range h.conns[userID] {
			client.TrySend(raw)
		}
	}
}

// SendToUser delivers an event to all of a user's connections regardless of
// thread membership. Used for cross-thread notifications such as unread
// counter pushes.
func (h *Hub) SendToUser(userID uint, event ThreadEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	for client := range h.conns[userID] {
		client.TrySend(raw)
	}
}

// IsUserOnline reports whether the user has at least one live connection.
func (h *Hub) IsUserOnline(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// IsUserViewing reports whether the user is actively viewing the thread.
// This is the default policy input for reminder arming.
func (h *Hub) IsUserViewing(userID, threadID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if threads, ok := h.viewing[userID]; ok {
		_, viewing := threads[threadID]
		return viewing
	}
	return false
}

// ThreadViewers returns the userIDs currently viewing a thread.
func (h *Hub) ThreadViewers(threadID uint) []uint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.threads[threadID]
	out := make([]uint, 0, len(members))
	for userID := range members {
		out = append(out, userID)
	}
	return out
}

// StartWiring subscribes the hub to Redis thread channels so events
// published by any server instance reach locally connected members.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartThreadSubscriber(ctx, func(channel, payload string) {
		threadID, ok := parseThreadChannel(channel)
		if !ok {
			slog.Warn("live channel: unrecognized channel", slog.String("channel", channel))
			return
		}

		var event ThreadEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			slog.Warn("live channel: malformed payload",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
			return
		}
		event.ThreadID = threadID
		h.BroadcastToThread(threadID, event)
	})
}

// Shutdown closes every connection after a best-effort shutdown notice.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	notice := []byte(`{"type":"server_shutdown"}`)
	for userID, clients := range h.conns {
		for client := range clients {
			if err := client.Conn.WriteMessage(websocket.TextMessage, notice); err != nil {
				slog.Warn("shutdown notice failed", slog.Uint64("user_id", uint64(userID)))
			}
			_ = client.Conn.Close()
		}
	}

	h.threads = make(map[uint]map[uint]struct{})
	h.viewing = make(map[uint]map[uint]struct{})
	h.conns = make(map[uint]map[*Client]struct{})
	return nil
}
