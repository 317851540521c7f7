package presence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetOnlineAddsAndRemoves(t *testing.T) {
	tb := NewTable()

	require.False(t, tb.IsOnline(1))

	tb.SetOnline(1, true)
	tb.SetOnline(2, true)
	require.True(t, tb.IsOnline(1))
	require.ElementsMatch(t, []int64{1, 2}, tb.Snapshot())

	tb.SetOnline(1, false)
	require.False(t, tb.IsOnline(1))
	require.True(t, tb.IsOnline(2))
}

func TestDuplicateStatusIsSilent(t *testing.T) {
	tb := NewTable()
	ch := tb.Subscribe()
	defer tb.Unsubscribe(ch)

	tb.SetOnline(1, true)
	tb.SetOnline(1, true) // no-op, no second event

	require.Len(t, ch, 1)
	evt := <-ch
	require.Equal(t, StatusEvent{UserID: 1, IsOnline: true}, evt)
}

func TestReplaceResyncsWholesale(t *testing.T) {
	tb := NewTable()
	tb.SetOnline(1, true)
	tb.SetOnline(2, true)

	ch := tb.Subscribe()
	defer tb.Unsubscribe(ch)

	tb.Replace([]int64{2, 3})

	require.False(t, tb.IsOnline(1))
	require.True(t, tb.IsOnline(2))
	require.True(t, tb.IsOnline(3))

	var events []StatusEvent
	for len(ch) > 0 {
		events = append(events, <-ch)
	}
	require.ElementsMatch(t, []StatusEvent{
		{UserID: 1, IsOnline: false},
		{UserID: 3, IsOnline: true},
	}, events)
}
