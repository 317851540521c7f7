// Game membership: the process-wide record of whether this user is inside
// an active session. Persisted so a restarted client still knows it is
// mid-game before any network round-trip completes.
package game

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/devduel/devduel/internal/storage"
	"github.com/devduel/devduel/internal/transport"
)

const (
	metaSessionID  = "game_session_id"
	metaInGame     = "is_in_game"
	metaDurationMS = "game_duration_ms"
)

// Transport is the slice of the connection manager this package needs.
type Transport interface {
	Send(event string, payload any) error
	Subscribe(event string) (chan transport.Event, func())
}

// MembershipChange is emitted whenever the tracker's state flips.
type MembershipChange struct {
	InGame    bool   `json:"inGame"`
	SessionID string `json:"sessionId"`
}

// Tracker holds game membership. The invariant is that InGame() is true
// exactly when SessionID() is non-empty; the storage hydration path repairs
// any half-written state rather than carrying it.
type Tracker struct {
	db *storage.DB
	tr Transport

	mu        sync.Mutex
	sessionID string
	duration  time.Duration

	listenerMu sync.Mutex
	listeners  []chan MembershipChange
}

// NewTracker hydrates from storage synchronously, so callers constructed
// after it (the navigation guard in particular) see persisted membership
// from their first call on.
func NewTracker(db *storage.DB, tr Transport) *Tracker {
	t := &Tracker{db: db, tr: tr}

	id, okID, err := db.GetMeta(metaSessionID)
	if err != nil {
		log.Printf("GAME: hydrate session id: %v", err)
	}
	flag, okFlag, err := db.GetMeta(metaInGame)
	if err != nil {
		log.Printf("GAME: hydrate in-game flag: %v", err)
	}

	if okID && okFlag && flag == "true" && id != "" {
		t.sessionID = id
		if ms, ok, _ := db.GetMeta(metaDurationMS); ok {
			if n, perr := strconv.ParseInt(ms, 10, 64); perr == nil {
				t.duration = time.Duration(n) * time.Millisecond
			}
		}
	} else if okID || okFlag {
		// Half-written state from a crash mid-update. Drop it.
		if derr := db.DeleteMeta(metaSessionID, metaInGame, metaDurationMS); derr != nil {
			log.Printf("GAME: clear stale membership: %v", derr)
		}
	}

	return t
}

// InGame reports active membership.
func (t *Tracker) InGame() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID != ""
}

// SessionID returns the active session id, empty when not in a game.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Duration returns the configured match duration.
func (t *Tracker) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// EnterGame records membership. The server is authoritative: an enter for a
// different session id simply overwrites.
func (t *Tracker) EnterGame(sessionID string, duration time.Duration) {
	t.mu.Lock()
	t.sessionID = sessionID
	t.duration = duration
	t.mu.Unlock()

	if err := t.db.SetMeta(metaSessionID, sessionID); err != nil {
		log.Printf("GAME: persist session id: %v", err)
	}
	if err := t.db.SetMeta(metaInGame, "true"); err != nil {
		log.Printf("GAME: persist in-game flag: %v", err)
	}
	if err := t.db.SetMeta(metaDurationMS, strconv.FormatInt(duration.Milliseconds(), 10)); err != nil {
		log.Printf("GAME: persist duration: %v", err)
	}

	t.notify(MembershipChange{InGame: true, SessionID: sessionID})
}

// LeaveGame forfeits: leave_game goes out best-effort even when the
// transport is down, then local state and the storage keys are cleared
// regardless. The emitted change doubles as the navigate-back-to-chat
// intent.
func (t *Tracker) LeaveGame() {
	t.mu.Lock()
	sessionID := t.sessionID
	t.mu.Unlock()

	if sessionID != "" {
		if err := t.tr.Send("leave_game", map[string]any{"sessionId": sessionID}); err != nil {
			log.Printf("GAME: leave_game for %s not delivered: %v", sessionID, err)
		}
	}
	t.Clear()
}

// Clear drops membership and the persisted keys (game_session_end path).
func (t *Tracker) Clear() {
	t.mu.Lock()
	wasInGame := t.sessionID != ""
	t.sessionID = ""
	t.duration = 0
	t.mu.Unlock()

	if err := t.db.DeleteMeta(metaSessionID, metaInGame, metaDurationMS); err != nil {
		log.Printf("GAME: clear membership keys: %v", err)
	}

	if wasInGame {
		t.notify(MembershipChange{InGame: false})
	}
}

func (t *Tracker) Subscribe() (ch chan MembershipChange, cancel func()) {
	ch = make(chan MembershipChange, 8)

	t.listenerMu.Lock()
	t.listeners = append(t.listeners, ch)
	t.listenerMu.Unlock()

	cancel = func() {
		t.listenerMu.Lock()
		for i, listener := range t.listeners {
			if listener == ch {
				close(listener)
				t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
				break
			}
		}
		t.listenerMu.Unlock()
	}
	return ch, cancel
}

func (t *Tracker) notify(c MembershipChange) {
	t.listenerMu.Lock()
	for _, ch := range t.listeners {
		select {
		case ch <- c:
		default:
		}
	}
	t.listenerMu.Unlock()
}
