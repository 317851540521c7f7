// Navigation guard: while the user is inside an active game, leaving the
// live-game route needs an explicit confirmation. Confirming keeps the
// membership, so the user can still return; only the backend decides when
// an absence becomes a forfeit.
package nav

import "strings"

// Membership is the slice of the game tracker the guard reads.
type Membership interface {
	InGame() bool
	SessionID() string
}

// Verdict classifies one attempted route change.
type Verdict string

const (
	VerdictAllow        Verdict = "allow"
	VerdictNeedsConfirm Verdict = "needs_confirm"
)

// Decision is the guard's answer for one target route.
type Decision struct {
	Verdict   Verdict `json:"verdict"`
	Target    string  `json:"target"`
	GameRoute string  `json:"gameRoute,omitempty"`
}

type Guard struct {
	members Membership
}

func NewGuard(members Membership) *Guard {
	return &Guard{members: members}
}

// GameRoute is the live-game route for a session.
func GameRoute(sessionID string) string {
	return "/game/" + sessionID
}

// Check classifies an attempted navigation. Pure: no state changes here.
func (g *Guard) Check(target string) Decision {
	if !g.members.InGame() {
		return Decision{Verdict: VerdictAllow, Target: target}
	}

	gameRoute := GameRoute(g.members.SessionID())
	if target == gameRoute || strings.HasPrefix(target, gameRoute+"/") {
		return Decision{Verdict: VerdictAllow, Target: target}
	}

	return Decision{Verdict: VerdictNeedsConfirm, Target: target, GameRoute: gameRoute}
}

// Resolve applies the user's answer to a NeedsConfirm decision and returns
// the route to navigate to. Confirmation allows the move and deliberately
// leaves membership intact; cancelling forces the user back to the game.
func (g *Guard) Resolve(d Decision, confirmed bool) string {
	if d.Verdict != VerdictNeedsConfirm || confirmed {
		return d.Target
	}
	return d.GameRoute
}
