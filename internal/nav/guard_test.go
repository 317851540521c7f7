package nav

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devduel/devduel/internal/game"
	"github.com/devduel/devduel/internal/storage"
	"github.com/devduel/devduel/internal/transport"
)

type fixedMembership struct {
	inGame    bool
	sessionID string
}

func (f fixedMembership) InGame() bool      { return f.inGame }
func (f fixedMembership) SessionID() string { return f.sessionID }

func TestCheckAllowsWhenNotInGame(t *testing.T) {
	g := NewGuard(fixedMembership{})

	d := g.Check("/rating")
	require.Equal(t, VerdictAllow, d.Verdict)
	require.Equal(t, "/rating", d.Target)
}

func TestCheckAllowsGameRouteWhileInGame(t *testing.T) {
	g := NewGuard(fixedMembership{inGame: true, sessionID: "abc"})

	require.Equal(t, VerdictAllow, g.Check("/game/abc").Verdict)
	require.Equal(t, VerdictAllow, g.Check("/game/abc/result").Verdict)

	// A different session's route still counts as leaving.
	require.Equal(t, VerdictNeedsConfirm, g.Check("/game/xyz").Verdict)
}

func TestCheckInterceptsLeavingTheGame(t *testing.T) {
	g := NewGuard(fixedMembership{inGame: true, sessionID: "abc"})

	d := g.Check("/rating")
	require.Equal(t, VerdictNeedsConfirm, d.Verdict)
	require.Equal(t, "/game/abc", d.GameRoute)
	require.Equal(t, "/rating", d.Target)
}

func TestResolveConfirmAllowsCancelRedirects(t *testing.T) {
	members := fixedMembership{inGame: true, sessionID: "abc"}
	g := NewGuard(members)
	d := g.Check("/rating")

	require.Equal(t, "/rating", g.Resolve(d, true))
	require.Equal(t, "/game/abc", g.Resolve(d, false))

	// Confirming a move never releases membership.
	require.True(t, members.InGame())
}

func TestColdBootHydrationGuardsImmediately(t *testing.T) {
	path := t.TempDir() + "/game.db"

	db, err := storage.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.SetMeta("game_session_id", "abc"))
	require.NoError(t, db.SetMeta("is_in_game", "true"))
	require.NoError(t, db.Close())

	// Cold boot: tracker hydrates synchronously, no network involved.
	db, err = storage.Open(path)
	require.NoError(t, err)
	defer db.Close()

	tracker := game.NewTracker(db, nopTransport{})
	g := NewGuard(tracker)

	d := g.Check("/rating")
	require.Equal(t, VerdictNeedsConfirm, d.Verdict)
	require.Equal(t, "/game/abc", d.GameRoute)
}

type nopTransport struct{}

func (nopTransport) Send(string, any) error { return nil }
func (nopTransport) Subscribe(string) (chan transport.Event, func()) {
	return nil, func() {}
}
