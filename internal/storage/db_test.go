package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMetaRoundTrip(t *testing.T) {
	db := openTemp(t)

	_, ok, err := db.GetMeta("game_session_id")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.SetMeta("game_session_id", "abc"))
	v, ok, err := db.GetMeta("game_session_id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc", v)

	require.NoError(t, db.SetMeta("game_session_id", "def"))
	v, _, _ = db.GetMeta("game_session_id")
	require.Equal(t, "def", v)

	require.NoError(t, db.DeleteMeta("game_session_id", "never_set"))
	_, ok, err = db.GetMeta("game_session_id")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDraftRoundTrip(t *testing.T) {
	db := openTemp(t)

	text, err := db.GetDraft("42")
	require.NoError(t, err)
	require.Empty(t, text)

	require.NoError(t, db.SetDraft("42", "unfinished thought"))
	text, err = db.GetDraft("42")
	require.NoError(t, err)
	require.Equal(t, "unfinished thought", text)

	// Empty text clears the row.
	require.NoError(t, db.SetDraft("42", ""))
	text, err = db.GetDraft("42")
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestMetaSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.SetMeta("is_in_game", "1"))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	v, ok, err := db.GetMeta("is_in_game")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)
}
