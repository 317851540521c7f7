// Connection manager — owns the one process-wide event-stream connection to
// the backend. Every other subsystem (chat, presence, game) subscribes here;
// none of them ever dials on its own.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Event is one frame of the live stream.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

var ErrNotConnected = errors.New("transport: not connected")

// Manager maintains at most one live WebSocket per authenticated identity.
// Repeated Connect calls while a connection exists are no-ops; Disconnect
// clears the singleton so a later Connect dials fresh. Each successful dial
// bumps a generation counter, and a reader belonging to an older generation
// drops everything it has in flight — that is the guard against a replaced
// connection leaking stale events to subscribers.
type Manager struct {
	url            string
	dialer         *websocket.Dialer
	maxReconnects  int
	reconnectDelay time.Duration

	mu         sync.Mutex
	conn       *websocket.Conn
	generation int
	state      State
	closing    bool

	subMu     sync.RWMutex
	subs      map[string]map[chan Event]struct{}
	stateSubs map[chan State]struct{}
}

type Options struct {
	// Jar carries the REST session cookie so the backend can authenticate
	// the stream.
	Jar http.CookieJar

	MaxReconnects  int
	ReconnectDelay time.Duration
}

func NewManager(url string, opt Options) *Manager {
	if opt.MaxReconnects <= 0 {
		opt.MaxReconnects = 5
	}
	if opt.ReconnectDelay <= 0 {
		opt.ReconnectDelay = 3 * time.Second
	}
	return &Manager{
		url: url,
		dialer: &websocket.Dialer{
			Jar:              opt.Jar,
			HandshakeTimeout: 10 * time.Second,
		},
		maxReconnects:  opt.MaxReconnects,
		reconnectDelay: opt.ReconnectDelay,
		state:          StateDisconnected,
		subs:           make(map[string]map[chan Event]struct{}),
		stateSubs:      make(map[chan State]struct{}),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect dials the event stream. Idempotent: while a connection exists (or
// a reconnect is in progress) it returns immediately.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.closing = false
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		m.mu.Lock()
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return fmt.Errorf("dial %s: %w", m.url, err)
	}

	m.adopt(conn)
	return nil
}

// adopt installs a freshly dialed connection and starts its reader.
func (m *Manager) adopt(conn *websocket.Conn) {
	m.mu.Lock()
	if m.closing {
		// Disconnect won the race against this dial.
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.generation++
	gen := m.generation
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	log.Printf("TRANSPORT: connected (gen %d)", gen)
	go m.readLoop(conn, gen)
}

// Disconnect tears down the current connection and suppresses reconnection.
// Safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	conn := m.conn
	m.conn = nil
	m.generation++ // orphan any reader still draining
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		conn.Close()
		log.Printf("TRANSPORT: disconnected")
	}
}

// Send emits an event frame. Fails fast when there is no live connection;
// callers own their retry policy.
func (m *Manager) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil || m.state != StateConnected {
		return ErrNotConnected
	}
	m.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return m.conn.WriteJSON(Event{Name: event, Data: data})
}

// Subscribe returns a channel receiving every event with the given name,
// plus a cancel func. Slow subscribers drop frames rather than block the
// reader.
func (m *Manager) Subscribe(event string) (ch chan Event, cancel func()) {
	ch = make(chan Event, 64)

	m.subMu.Lock()
	if m.subs[event] == nil {
		m.subs[event] = make(map[chan Event]struct{})
	}
	m.subs[event][ch] = struct{}{}
	m.subMu.Unlock()

	cancel = func() {
		m.subMu.Lock()
		if set, ok := m.subs[event]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
		}
		m.subMu.Unlock()
	}
	return ch, cancel
}

// SubscribeState returns a channel receiving connection state transitions.
func (m *Manager) SubscribeState() (ch chan State, cancel func()) {
	ch = make(chan State, 8)

	m.subMu.Lock()
	m.stateSubs[ch] = struct{}{}
	m.subMu.Unlock()

	cancel = func() {
		m.subMu.Lock()
		if _, ok := m.stateSubs[ch]; ok {
			delete(m.stateSubs, ch)
			close(ch)
		}
		m.subMu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s

	m.subMu.RLock()
	for ch := range m.stateSubs {
		select {
		case ch <- s:
		default:
		}
	}
	m.subMu.RUnlock()
}

func (m *Manager) currentGeneration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.currentGeneration() != gen {
				// A newer connection replaced this one; nothing to do.
				return
			}
			m.mu.Lock()
			closing := m.closing
			m.conn = nil
			m.setStateLocked(StateDisconnected)
			m.mu.Unlock()

			if !closing {
				log.Printf("TRANSPORT: read failed (gen %d): %v", gen, err)
				go m.reconnect()
			}
			return
		}

		if m.currentGeneration() != gen {
			// Stale reader: a fresh dial happened while this frame was in
			// flight. Drop it.
			return
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Printf("TRANSPORT: bad frame: %v", err)
			continue
		}
		m.dispatch(evt)
	}
}

func (m *Manager) dispatch(evt Event) {
	m.subMu.RLock()
	for ch := range m.subs[evt.Name] {
		select {
		case ch <- evt:
		default:
			// subscriber buffer full, drop
		}
	}
	m.subMu.RUnlock()
}

// reconnect retries the dial a bounded number of times with a fixed delay.
// Dependents observe the Connecting state and hold UI actions meanwhile.
func (m *Manager) reconnect() {
	for attempt := 1; attempt <= m.maxReconnects; attempt++ {
		m.mu.Lock()
		if m.closing || m.state == StateConnected {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(StateConnecting)
		m.mu.Unlock()

		log.Printf("TRANSPORT: reconnect attempt %d/%d", attempt, m.maxReconnects)
		conn, _, err := m.dialer.Dial(m.url, nil)
		if err == nil {
			m.adopt(conn)
			return
		}

		time.Sleep(m.reconnectDelay)
	}

	m.mu.Lock()
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	log.Printf("TRANSPORT: gave up after %d reconnect attempts", m.maxReconnects)
}
