package game

import (
	"errors"
	"sync"
	"time"
)

// InviteStatus is the lifecycle of one game invite. Pending is initial;
// everything else is terminal and frozen.
type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteAccepted  InviteStatus = "accepted"
	InviteDeclined  InviteStatus = "declined"
	InviteExpired   InviteStatus = "expired"
	InviteAbandoned InviteStatus = "abandoned"
)

var (
	ErrInviteTransition = errors.New("invite transition not allowed")
	ErrAlreadyInGame    = errors.New("already in an active game")
	ErrUnknownInvite    = errors.New("unknown invite")
)

// inviteTransitions is the full transition table. Absence means rejection.
var inviteTransitions = map[InviteStatus]map[InviteStatus]struct{}{
	InvitePending: {
		InviteAccepted:  {},
		InviteDeclined:  {},
		InviteExpired:   {},
		InviteAbandoned: {},
	},
}

// DefaultInviteCountdown is how long a pending invite stays actionable on
// screen when the config does not say otherwise. Derived display state
// only; expiry itself arrives as a server event.
const DefaultInviteCountdown = 30 * time.Second

// PendingRemaining returns the cosmetic countdown for a pending invite.
func PendingRemaining(countdown time.Duration, sentAt, now time.Time) time.Duration {
	left := countdown - now.Sub(sentAt)
	if left < 0 {
		return 0
	}
	return left
}

// InviteBook tracks the status of every invite seen this run. Transitions
// come exclusively from server events; local accept/decline only sends a
// request and the flip happens on confirmation.
type InviteBook struct {
	mu      sync.Mutex
	invites map[string]InviteStatus
}

func NewInviteBook() *InviteBook {
	return &InviteBook{invites: map[string]InviteStatus{}}
}

// Track registers an invite in its initial state. Re-tracking a known
// invite never regresses it.
func (b *InviteBook) Track(inviteID string, status InviteStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, known := b.invites[inviteID]; known {
		return
	}
	b.invites[inviteID] = status
}

// Apply moves one invite along the table. Anything outside the table,
// including any event for an invite already terminal, returns
// ErrInviteTransition and leaves the state untouched.
func (b *InviteBook) Apply(inviteID string, next InviteStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, known := b.invites[inviteID]
	if !known {
		if next == InvitePending {
			b.invites[inviteID] = next
			return nil
		}
		// Terminal event for an invite we never saw pending (history not
		// loaded). Record it as-is: the first state seen is authoritative.
		b.invites[inviteID] = next
		return nil
	}

	allowed, ok := inviteTransitions[cur]
	if !ok {
		return ErrInviteTransition
	}
	if _, ok := allowed[next]; !ok {
		return ErrInviteTransition
	}
	b.invites[inviteID] = next
	return nil
}

// Status returns the tracked status of an invite.
func (b *InviteBook) Status(inviteID string) (InviteStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.invites[inviteID]
	return s, ok
}
