// Session/identity store. Holds the authenticated profile derived from the
// backend session cookie and gates whether the transport may connect.
package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/devduel/devduel/internal/api"
)

// Route is a top-level destination forced by an identity change.
type Route string

const (
	RouteLogin  Route = "/login"
	RouteBanned Route = "/banned"
	RouteChat   Route = "/chat"
)

// Disconnector is the slice of the transport manager the logout sequence
// needs. Disconnecting before notifying the backend avoids racing live
// events against a session that is going away.
type Disconnector interface {
	Disconnect()
}

type Manager struct {
	client    *api.Client
	transport Disconnector

	mu   sync.RWMutex
	user *api.User

	listenerMu sync.Mutex
	listeners  []chan Route
}

func NewManager(client *api.Client, transport Disconnector) *Manager {
	return &Manager{
		client:    client,
		transport: transport,
	}
}

// Current returns the authenticated profile, or (zero, false) when logged out.
func (m *Manager) Current() (api.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return api.User{}, false
	}
	return *m.user, true
}

// Fetch validates the session cookie against the backend and stores the
// profile. ErrBanned and ErrUnauthorized clear any held identity and route
// to their dedicated views; neither is ever retried here.
func (m *Manager) Fetch(ctx context.Context) (api.User, error) {
	u, err := m.client.Me(ctx)
	if err != nil {
		if api.IsTerminal(err) {
			m.clear()
			m.routeTo(routeFor(err))
		}
		return api.User{}, err
	}

	m.mu.Lock()
	m.user = &u
	m.mu.Unlock()
	return u, nil
}

// Refresh re-fetches the profile on demand (role change, avatar update).
func (m *Manager) Refresh(ctx context.Context) (api.User, error) {
	return m.Fetch(ctx)
}

// Logout runs the strict teardown order: transport first, then the
// best-effort backend notification, then local identity, then routing.
func (m *Manager) Logout(ctx context.Context) {
	if m.transport != nil {
		m.transport.Disconnect()
	}

	if err := m.client.Logout(ctx); err != nil {
		log.Printf("SESSION: logout notify failed: %v", err)
	}

	m.clear()
	m.routeTo(RouteLogin)
}

func (m *Manager) clear() {
	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()
}

func routeFor(err error) Route {
	if errors.Is(err, api.ErrBanned) {
		return RouteBanned
	}
	return RouteLogin
}

// SubscribeRoutes returns a channel receiving forced route changes
// (login after auth loss, banned view, login after logout).
func (m *Manager) SubscribeRoutes() (ch chan Route, cancel func()) {
	ch = make(chan Route, 4)

	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()

	cancel = func() {
		m.listenerMu.Lock()
		for i, listener := range m.listeners {
			if listener == ch {
				close(listener)
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				break
			}
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) routeTo(r Route) {
	m.listenerMu.Lock()
	for _, ch := range m.listeners {
		select {
		case ch <- r:
		default:
		}
	}
	m.listenerMu.Unlock()
}
