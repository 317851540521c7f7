package game

import (
	"errors"
	"sync"
	"time"
)

var ErrNoSession = errors.New("no active game session")

// SessionStatus is the lifecycle of the live game screen, server-driven
// and strictly forward.
type SessionStatus string

const (
	SessionWaiting    SessionStatus = "waiting"
	SessionReady      SessionStatus = "ready"
	SessionInProgress SessionStatus = "in_progress"
	SessionFinished   SessionStatus = "finished"
)

var sessionRank = map[SessionStatus]int{
	SessionWaiting:    0,
	SessionReady:      1,
	SessionInProgress: 2,
	SessionFinished:   3,
}

// SessionState is the server's view of one match. Solved counters come in
// over the separate progress stream, not the status updates.
type SessionState struct {
	ID            string        `json:"id"`
	Player1       int64         `json:"player1Id"`
	Player2       int64         `json:"player2Id"`
	Status        SessionStatus `json:"status"`
	StartTime     time.Time     `json:"startTimeUtc"`
	Duration      time.Duration `json:"-"`
	Player1Solved int           `json:"player1Solved"`
	Player2Solved int           `json:"player2Solved"`
}

// Screen holds the state of the mounted game screen. Updates only ever
// move the status forward; a finished session id goes into a lock set so
// stale in-flight updates cannot resurrect a concluded match.
type Screen struct {
	mu       sync.Mutex
	cur      *SessionState
	finished map[string]struct{}
}

func NewScreen() *Screen {
	return &Screen{finished: map[string]struct{}{}}
}

// Apply folds a game_session_update in. Returns whether the visible state
// changed. Out-of-table cases are dropped silently: updates for a locked
// session, and updates that would move the status backwards.
func (s *Screen) Apply(state SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, locked := s.finished[state.ID]; locked {
		return false
	}

	copied := state
	if s.cur != nil && s.cur.ID == state.ID {
		if sessionRank[state.Status] < sessionRank[s.cur.Status] {
			return false
		}
		// Status frames carry no counters; keep the ones already streamed.
		copied.Player1Solved = s.cur.Player1Solved
		copied.Player2Solved = s.cur.Player2Solved
	}

	s.cur = &copied
	if state.Status == SessionFinished {
		s.finished[state.ID] = struct{}{}
	}
	return true
}

// ApplyProgress folds a progress frame into the mounted session. Frames
// for a locked or non-current session are dropped.
func (s *Screen) ApplyProgress(sessionID string, player1Solved, player2Solved int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, locked := s.finished[sessionID]; locked {
		return false
	}
	if s.cur == nil || s.cur.ID != sessionID {
		return false
	}
	s.cur.Player1Solved = player1Solved
	s.cur.Player2Solved = player2Solved
	return true
}

// Finish applies the game_session_end for a session: terminal, locked.
func (s *Screen) Finish(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished[sessionID] = struct{}{}
	if s.cur != nil && s.cur.ID == sessionID {
		s.cur.Status = SessionFinished
	}
}

// Current returns a copy of the mounted session state.
func (s *Screen) Current() (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return SessionState{}, false
	}
	return *s.cur, true
}

// Unmount drops the screen state. The finished locks stay: a remount must
// not revive a concluded session from a late event.
func (s *Screen) Unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = nil
}

// Remaining derives the countdown from the server-assigned start and
// duration. Reaching zero is display-only; the match ends when the server
// says so.
func (s *Screen) Remaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil || s.cur.Status != SessionInProgress {
		return 0
	}
	left := s.cur.StartTime.Add(s.cur.Duration).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
