// Package client is the device-side conversation core: it owns the live
// websocket connection, the optimistic send pipeline and the offline replay
// queue. The server never imports this package; it is consumed by client
// binaries and integration tooling.
package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/observability"

	"github.com/gorilla/websocket"
)

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
)

const (
	maxReconnectAttempts = 10
	baseReconnectDelay   = time.Second
	maxReconnectDelay    = 30 * time.Second

	// typingExpiry is how long a typing signal stays alive without renewal.
	typingExpiry = 3 * time.Second
)

// ConnectionState is the process-wide connection snapshot. It is only ever
// mutated by the ConnectionManager; everything else observes it through
// OnConnectionChange.
type ConnectionState struct {
	State             string
	Connected         bool
	ReconnectAttempts int
	LastError         error
}

// Event is a message arriving on the live channel.
type Event struct {
	Type     string          `json:"type"`
	ThreadID uint            `json:"thread_id,omitempty"`
	UserID   uint            `json:"user_id,omitempty"`
	IsTyping bool            `json:"is_typing,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Live-channel event types, shared with the server hub.
const (
	EventMessageNew  = "message:new"
	EventMessageRead = "message:read"
	EventTyping      = "typing"
	EventJoin        = "join"
	EventLeave       = "leave"
)

// ConnectionManager owns the single live-transport connection. It dials,
// reconnects with exponential backoff after an unexpected drop, and restores
// thread room membership on every reconnect. All state mutation happens on
// the manager's goroutines; callers observe via callbacks.
type ConnectionManager struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	state      ConnectionState
	credential string
	joined     map[uint]bool
	listeners  map[int]func(ConnectionState)
	nextID     int
	onEvent    func(Event)
	generation int

	// writeMu serializes writers; gorilla connections allow one concurrent
	// writer only.
	writeMu sync.Mutex

	typingMu     sync.Mutex
	typingTimers map[uint]*time.Timer
}

// NewConnectionManager creates a manager for the given server base URL,
// e.g. "ws://localhost:8460".
func NewConnectionManager(baseURL string, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		baseURL:      baseURL,
		dialer:       websocket.DefaultDialer,
		logger:       logger,
		state:        ConnectionState{State: StateDisconnected},
		joined:       make(map[uint]bool),
		listeners:    make(map[int]func(ConnectionState)),
		typingTimers: make(map[uint]*time.Timer),
	}
}

// OnEvent registers the handler for incoming live-channel events. Must be
// set before Connect.
func (m *ConnectionManager) OnEvent(cb func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = cb
}

// OnConnectionChange subscribes to state transitions and returns an
// unsubscribe function. The subscription's lifetime is the caller's
// responsibility.
func (m *ConnectionManager) OnConnectionChange(cb func(ConnectionState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// State returns a snapshot of the current connection state.
func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the live channel is up.
func (m *ConnectionManager) IsConnected() bool {
	return m.State().Connected
}

// Connect dials the live channel with the given credential. Reconnection
// after a drop reuses the credential until Disconnect.
func (m *ConnectionManager) Connect(credential string) error {
	m.mu.Lock()
	if m.state.Connected || m.state.State == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.credential = credential
	m.generation++
	gen := m.generation
	m.setStateLocked(ConnectionState{State: StateConnecting})
	m.mu.Unlock()

	conn, err := m.dial(credential)
	if err != nil {
		m.mu.Lock()
		m.setStateLocked(ConnectionState{State: StateDisconnected, LastError: err})
		m.mu.Unlock()
		return fmt.Errorf("live channel connect: %w", err)
	}

	m.adopt(conn, gen, 0)
	return nil
}

// Disconnect closes the connection and resets state, including reconnect
// bookkeeping. Used on explicit logout.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.generation++
	conn := m.conn
	m.conn = nil
	m.credential = ""
	m.joined = make(map[uint]bool)
	m.setStateLocked(ConnectionState{State: StateDisconnected})
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		_ = conn.Close()
	}

	m.typingMu.Lock()
	for id, t := range m.typingTimers {
		t.Stop()
		delete(m.typingTimers, id)
	}
	m.typingMu.Unlock()
}

// JoinThread subscribes to a thread room. Membership survives reconnects.
func (m *ConnectionManager) JoinThread(threadID uint) {
	m.mu.Lock()
	m.joined[threadID] = true
	m.mu.Unlock()
	m.sendEvent(Event{Type: EventJoin, ThreadID: threadID})
}

// LeaveThread unsubscribes from a thread room.
func (m *ConnectionManager) LeaveThread(threadID uint) {
	m.mu.Lock()
	delete(m.joined, threadID)
	m.mu.Unlock()
	m.sendEvent(Event{Type: EventLeave, ThreadID: threadID})
}

// EmitTyping sends a fire-and-forget typing hint. A true signal auto-expires
// after 3s unless renewed by another keystroke; loss is not an error.
func (m *ConnectionManager) EmitTyping(threadID uint, isTyping bool) {
	m.sendEvent(Event{Type: EventTyping, ThreadID: threadID, IsTyping: isTyping})

	m.typingMu.Lock()
	defer m.typingMu.Unlock()

	if t, ok := m.typingTimers[threadID]; ok {
		t.Stop()
		delete(m.typingTimers, threadID)
	}
	if isTyping {
		m.typingTimers[threadID] = time.AfterFunc(typingExpiry, func() {
			m.typingMu.Lock()
			delete(m.typingTimers, threadID)
			m.typingMu.Unlock()
			m.sendEvent(Event{Type: EventTyping, ThreadID: threadID, IsTyping: false})
		})
	}
}

func (m *ConnectionManager) dial(credential string) (*websocket.Conn, error) {
	u, err := url.Parse(m.baseURL + "/ws/chat")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()

	conn, resp, err := m.dialer.Dial(u.String(), nil)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	return conn, err
}

// adopt installs a freshly dialed connection, replays room membership and
// starts the read loop.
func (m *ConnectionManager) adopt(conn *websocket.Conn, gen, attempts int) {
	m.mu.Lock()
	if gen != m.generation {
		// Disconnect happened while dialing.
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	rooms := make([]uint, 0, len(m.joined))
	for id := range m.joined {
		rooms = append(rooms, id)
	}
	m.setStateLocked(ConnectionState{State: StateConnected, Connected: true, ReconnectAttempts: attempts})
	m.mu.Unlock()

	for _, id := range rooms {
		m.sendEvent(Event{Type: EventJoin, ThreadID: id})
	}

	go m.readPump(conn, gen)
}

func (m *ConnectionManager) readPump(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := gen != m.generation
			m.mu.Unlock()
			if !stale {
				m.reconnect(gen, err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			m.logger.Warn("live channel: dropping malformed event", slog.String("error", err.Error()))
			continue
		}

		m.mu.Lock()
		cb := m.onEvent
		m.mu.Unlock()
		if cb != nil {
			cb(ev)
		}
	}
}

// reconnect retries with exponential backoff, notifying listeners of every
// attempt. After the attempt bound the state settles at disconnected and a
// fresh Connect is required.
func (m *ConnectionManager) reconnect(gen int, cause error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	credential := m.credential
	m.setStateLocked(ConnectionState{State: StateReconnecting, LastError: cause})
	m.mu.Unlock()

	delay := baseReconnectDelay
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		time.Sleep(delay)

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(ConnectionState{State: StateReconnecting, ReconnectAttempts: attempt, LastError: cause})
		m.mu.Unlock()

		observability.ReconnectAttempts.Inc()

		conn, err := m.dial(credential)
		if err == nil {
			m.adopt(conn, gen, attempt)
			return
		}
		cause = err
		m.logger.Warn("live channel reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}

	m.mu.Lock()
	if gen == m.generation {
		m.setStateLocked(ConnectionState{State: StateDisconnected, ReconnectAttempts: maxReconnectAttempts, LastError: cause})
	}
	m.mu.Unlock()
}

func (m *ConnectionManager) sendEvent(ev Event) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		m.logger.Warn("live channel write failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
}

// setStateLocked updates state and notifies listeners. Callers hold m.mu;
// callbacks run on a fresh goroutine so a slow listener never stalls the
// read loop.
func (m *ConnectionManager) setStateLocked(s ConnectionState) {
	m.state = s
	for _, cb := range m.listeners {
		go cb(s)
	}
}
