package game

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Manager wires the membership tracker, the invite book and the session
// screen to the push stream, and is the surface the HTTP layer calls for
// user intents (ready, leave, accept, decline).
type Manager struct {
	tr      Transport
	Members *Tracker
	Invites *InviteBook
	Screen  *Screen

	inviteWindow time.Duration

	mu            sync.Mutex
	joined        map[string]struct{}
	lastInviteErr string

	updates chan struct{}
}

func NewManager(tr Transport, members *Tracker, inviteWindow time.Duration) *Manager {
	if inviteWindow <= 0 {
		inviteWindow = DefaultInviteCountdown
	}
	m := &Manager{
		tr:           tr,
		Members:      members,
		Invites:      NewInviteBook(),
		Screen:       NewScreen(),
		inviteWindow: inviteWindow,
		joined:       map[string]struct{}{},
		updates:      make(chan struct{}, 1),
	}
	// A session hydrated from storage was joined before the reload; a
	// remount must validate it, not join it twice.
	if id := members.SessionID(); id != "" {
		m.joined[id] = struct{}{}
	}
	return m
}

// InviteWindow is the configured pending-invite countdown.
func (m *Manager) InviteWindow() time.Duration {
	return m.inviteWindow
}

// InviteRemaining returns the cosmetic countdown for an invite sent at the
// given time.
func (m *Manager) InviteRemaining(sentAt, now time.Time) time.Duration {
	return PendingRemaining(m.inviteWindow, sentAt, now)
}

// InviteError returns the last server-side invite rejection, if any.
func (m *Manager) InviteError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInviteErr
}

// Updates signals coalesced state changes for push to the UI.
func (m *Manager) Updates() <-chan struct{} {
	return m.updates
}

func (m *Manager) signal() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

// Run pumps the server events into the state machines until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	type sub struct {
		event  string
		handle func(data json.RawMessage)
	}

	subs := []sub{
		{"game_session_joined", m.onSessionJoined},
		{"game_session_end", m.onSessionEnd},
		{"game_session_update", m.onSessionUpdate},
		{"game_not_found", m.onNotFound},
		{"game_progress_update", m.onProgress},
		{"game_invite_accepted", m.inviteEvent(InviteAccepted)},
		{"game_invite_declined", m.inviteEvent(InviteDeclined)},
		{"game_invite_expired", m.inviteEvent(InviteExpired)},
		{"game_invite_abandoned", m.inviteEvent(InviteAbandoned)},
		{"game_invite_error", m.onInviteError},
		{"new_message", m.onNewMessage},
	}

	for _, s := range subs {
		ch, cancel := m.tr.Subscribe(s.event)
		go func(s sub) {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-ch:
					if !ok {
						return
					}
					s.handle(evt.Data)
				}
			}
		}(s)
	}

	<-ctx.Done()
}

func (m *Manager) markJoined(sessionID string) {
	m.mu.Lock()
	m.joined[sessionID] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) forgetJoined(sessionID string) {
	m.mu.Lock()
	delete(m.joined, sessionID)
	m.mu.Unlock()
}

func (m *Manager) onSessionJoined(data json.RawMessage) {
	var evt struct {
		SessionID  string `json:"sessionId"`
		DurationMS int64  `json:"durationMs"`
	}
	if err := json.Unmarshal(data, &evt); err != nil || evt.SessionID == "" {
		log.Printf("GAME: bad game_session_joined: %v", err)
		return
	}
	// Server is authoritative: set unconditionally.
	m.Members.EnterGame(evt.SessionID, time.Duration(evt.DurationMS)*time.Millisecond)
	m.markJoined(evt.SessionID)
	m.signal()
}

func (m *Manager) onSessionEnd(data json.RawMessage) {
	var evt struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(data, &evt)

	// Personal channel: no filtering, clear unconditionally.
	sessionID := evt.SessionID
	if sessionID == "" {
		sessionID = m.Members.SessionID()
	}
	if sessionID != "" {
		m.Screen.Finish(sessionID)
		m.forgetJoined(sessionID)
	}
	m.Members.Clear()
	m.signal()
}

// onNotFound is the server's negative answer to validate_game_session: the
// session this client remembers no longer exists. Persisted membership is
// only a cache of the server's state, so it is dropped on the spot —
// without this the navigation guard would intercept forever, because no
// game_session_end can ever arrive for a session the server forgot.
func (m *Manager) onNotFound(data json.RawMessage) {
	var evt struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(data, &evt)

	sessionID := evt.SessionID
	if sessionID == "" {
		sessionID = m.Members.SessionID()
	}
	if sessionID != "" {
		m.Screen.Finish(sessionID)
		m.forgetJoined(sessionID)
	}
	log.Printf("GAME: session %q unknown to server, dropping stale membership", sessionID)
	m.Members.Clear()
	m.signal()
}

func (m *Manager) onSessionUpdate(data json.RawMessage) {
	var evt struct {
		ID         string        `json:"id"`
		Player1    int64         `json:"player1Id"`
		Player2    int64         `json:"player2Id"`
		Status     SessionStatus `json:"status"`
		StartTime  time.Time     `json:"startTimeUtc"`
		DurationMS int64         `json:"durationMs"`
	}
	if err := json.Unmarshal(data, &evt); err != nil || evt.ID == "" {
		log.Printf("GAME: bad game_session_update: %v", err)
		return
	}

	changed := m.Screen.Apply(SessionState{
		ID:        evt.ID,
		Player1:   evt.Player1,
		Player2:   evt.Player2,
		Status:    evt.Status,
		StartTime: evt.StartTime,
		Duration:  time.Duration(evt.DurationMS) * time.Millisecond,
	})
	if changed {
		m.signal()
	}
}

func (m *Manager) onProgress(data json.RawMessage) {
	var evt struct {
		SessionID     string `json:"sessionId"`
		Player1Solved int    `json:"player1Solved"`
		Player2Solved int    `json:"player2Solved"`
	}
	if err := json.Unmarshal(data, &evt); err != nil || evt.SessionID == "" {
		log.Printf("GAME: bad game_progress_update: %v", err)
		return
	}
	if m.Screen.ApplyProgress(evt.SessionID, evt.Player1Solved, evt.Player2Solved) {
		m.signal()
	}
}

// onNewMessage registers invites carried inside chat messages, so the book
// knows each invite's starting status even before any lifecycle event.
func (m *Manager) onNewMessage(data json.RawMessage) {
	var msg struct {
		Kind   string `json:"kind"`
		Invite *struct {
			InviteID string `json:"inviteId"`
			Status   string `json:"status"`
		} `json:"invite"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Invite == nil {
		return
	}
	if msg.Kind != "game_invite" || msg.Invite.InviteID == "" {
		return
	}
	m.Invites.Track(msg.Invite.InviteID, InviteStatus(msg.Invite.Status))
	m.signal()
}

func (m *Manager) inviteEvent(status InviteStatus) func(json.RawMessage) {
	return func(data json.RawMessage) {
		var evt struct {
			InviteID string `json:"inviteId"`
		}
		if err := json.Unmarshal(data, &evt); err != nil || evt.InviteID == "" {
			log.Printf("GAME: bad invite event: %v", err)
			return
		}
		if err := m.Invites.Apply(evt.InviteID, status); err != nil {
			log.Printf("GAME: invite %s → %s ignored: %v", evt.InviteID, status, err)
			return
		}
		m.signal()
	}
}

// onInviteError surfaces a server-side rejection of an invite request
// (already consumed, recipient unavailable). The invite's tracked status
// is untouched; only the confirmation events move it.
func (m *Manager) onInviteError(data json.RawMessage) {
	var evt struct {
		InviteID string `json:"inviteId"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		log.Printf("GAME: bad game_invite_error: %v", err)
		return
	}
	log.Printf("GAME: invite %s rejected by server: %s", evt.InviteID, evt.Message)

	m.mu.Lock()
	m.lastInviteErr = evt.Message
	m.mu.Unlock()
	m.signal()
}

// Mount prepares the game screen for a session: join once per session (a
// remount must not emit a second join), then ask the server for its
// authoritative view.
func (m *Manager) Mount(sessionID string) error {
	m.mu.Lock()
	_, already := m.joined[sessionID]
	if !already {
		m.joined[sessionID] = struct{}{}
	}
	m.mu.Unlock()

	if !already {
		if err := m.tr.Send("join_game_session", map[string]any{"sessionId": sessionID}); err != nil {
			// Let the next mount retry the join.
			m.forgetJoined(sessionID)
			return err
		}
	}
	return m.tr.Send("validate_game_session", map[string]any{"sessionId": sessionID})
}

// AcceptInvite requests acceptance. Refused locally while already in a game
// so one user cannot double-book; the status flip itself waits for the
// server confirmation event.
func (m *Manager) AcceptInvite(inviteID string) error {
	if m.Members.InGame() {
		return ErrAlreadyInGame
	}
	if s, ok := m.Invites.Status(inviteID); ok && s != InvitePending {
		return ErrInviteTransition
	}
	return m.tr.Send("accept_game_invite", map[string]any{"inviteId": inviteID})
}

// DeclineInvite requests a decline.
func (m *Manager) DeclineInvite(inviteID string) error {
	return m.tr.Send("decline_game_invite", map[string]any{"inviteId": inviteID})
}

// Ready flags this player ready in the waiting room.
func (m *Manager) Ready() error {
	sessionID := m.Members.SessionID()
	if sessionID == "" {
		return ErrNoSession
	}
	return m.tr.Send("set_player_ready", map[string]any{"sessionId": sessionID})
}

// Leave forfeits the current match and releases membership.
func (m *Manager) Leave() {
	sessionID := m.Members.SessionID()
	m.Members.LeaveGame()
	if sessionID != "" {
		m.Screen.Finish(sessionID)
		m.forgetJoined(sessionID)
	}
	m.signal()
}
