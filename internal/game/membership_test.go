package game

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devduel/devduel/internal/storage"
	"github.com/devduel/devduel/internal/transport"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []string
	down bool
	subs map[string][]chan transport.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: map[string][]chan transport.Event{}}
}

func (f *fakeTransport) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, event)
	return nil
}

func (f *fakeTransport) Subscribe(event string) (chan transport.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan transport.Event, 16)
	f.subs[event] = append(f.subs[event], ch)
	return ch, func() {}
}

func (f *fakeTransport) push(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[event] {
		ch <- transport.Event{Name: event, Data: raw}
	}
}

func (f *fakeTransport) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func openDB(t *testing.T, path string) *storage.DB {
	t.Helper()
	db, err := storage.Open(path)
	require.NoError(t, err)
	return db
}

func TestMembershipInvariant(t *testing.T) {
	db := openDB(t, t.TempDir()+"/game.db")
	defer db.Close()
	tr := newFakeTransport()

	m := NewTracker(db, tr)
	require.False(t, m.InGame())
	require.Empty(t, m.SessionID())

	m.EnterGame("abc", 10*time.Minute)
	require.True(t, m.InGame())
	require.Equal(t, "abc", m.SessionID())
	require.Equal(t, 10*time.Minute, m.Duration())

	m.LeaveGame()
	require.False(t, m.InGame())
	require.Empty(t, m.SessionID())
}

func TestMembershipSurvivesRestart(t *testing.T) {
	path := t.TempDir() + "/game.db"

	db := openDB(t, path)
	NewTracker(db, newFakeTransport()).EnterGame("abc", 10*time.Minute)
	require.NoError(t, db.Close())

	db = openDB(t, path)
	defer db.Close()
	m := NewTracker(db, newFakeTransport())

	// Hydration is synchronous: membership is visible before any network.
	require.True(t, m.InGame())
	require.Equal(t, "abc", m.SessionID())
	require.Equal(t, 10*time.Minute, m.Duration())
}

func TestLeaveClearsStorageKeys(t *testing.T) {
	path := t.TempDir() + "/game.db"
	db := openDB(t, path)

	m := NewTracker(db, newFakeTransport())
	m.EnterGame("abc", 10*time.Minute)
	m.LeaveGame()
	require.NoError(t, db.Close())

	db = openDB(t, path)
	defer db.Close()
	require.False(t, NewTracker(db, newFakeTransport()).InGame())
}

func TestLeaveBestEffortWhenTransportDown(t *testing.T) {
	db := openDB(t, t.TempDir()+"/game.db")
	defer db.Close()
	tr := newFakeTransport()
	tr.down = true

	m := NewTracker(db, tr)
	m.EnterGame("abc", 10*time.Minute)

	// Send fails but local state still clears.
	m.LeaveGame()
	require.False(t, m.InGame())
}

func TestHalfWrittenStateIsRepaired(t *testing.T) {
	db := openDB(t, t.TempDir()+"/game.db")
	defer db.Close()

	// Flag without a session id: a crash between the two writes.
	require.NoError(t, db.SetMeta("is_in_game", "true"))

	m := NewTracker(db, newFakeTransport())
	require.False(t, m.InGame())

	_, ok, err := db.GetMeta("is_in_game")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLeaveEmitsChangeIntent(t *testing.T) {
	db := openDB(t, t.TempDir()+"/game.db")
	defer db.Close()

	m := NewTracker(db, newFakeTransport())
	ch, cancel := m.Subscribe()
	defer cancel()

	m.EnterGame("abc", time.Minute)
	m.LeaveGame()

	require.Equal(t, MembershipChange{InGame: true, SessionID: "abc"}, <-ch)
	require.Equal(t, MembershipChange{InGame: false}, <-ch)
}
