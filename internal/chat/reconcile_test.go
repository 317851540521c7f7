package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devduel/devduel/internal/api"
)

func text(id, chatID, author int64, body string, ts time.Time) api.Message {
	return api.Message{
		ID:        id,
		ChatID:    chatID,
		AuthorID:  author,
		Kind:      api.MessageKindText,
		Text:      body,
		Timestamp: ts,
	}
}

func TestEchoReplacesOptimisticEntry(t *testing.T) {
	now := time.Now()
	list := []Message{
		{Message: text(10, 1, 2, "hi", now)},
		{Message: api.Message{ChatID: 1, AuthorID: 7, Text: "sent", ClientNonce: "n-1", Timestamp: now}, Pending: true},
	}

	echo := text(11, 1, 7, "sent", now)
	echo.ClientNonce = "n-1"
	list = appendOrReplace(list, echo)

	require.Len(t, list, 2)
	require.False(t, list[1].Pending)
	require.Equal(t, int64(11), list[1].ID)
	require.Equal(t, "sent", list[1].Text)
}

func TestRedeliveryDoesNotDuplicate(t *testing.T) {
	now := time.Now()
	list := []Message{{Message: text(10, 1, 2, "hi", now)}}

	list = appendOrReplace(list, text(10, 1, 2, "hi", now))
	require.Len(t, list, 1)

	list = appendOrReplace(list, text(11, 1, 2, "more", now))
	require.Len(t, list, 2)
}

func TestMergeHistoryFoldsBufferedEvents(t *testing.T) {
	now := time.Now()
	history := []api.Message{
		text(10, 1, 2, "a", now),
		text(11, 1, 2, "b", now),
	}
	// One event duplicates the last history entry, one is genuinely new.
	buffered := []api.Message{
		text(11, 1, 2, "b", now),
		text(12, 1, 2, "c", now),
	}

	list := mergeHistory(history, buffered)
	require.Len(t, list, 3)
	require.Equal(t, int64(10), list[0].ID)
	require.Equal(t, int64(11), list[1].ID)
	require.Equal(t, int64(12), list[2].ID)
}

func TestRemoveByNonceRollsBackOnlyPending(t *testing.T) {
	now := time.Now()
	list := []Message{
		{Message: text(10, 1, 2, "hi", now)},
		{Message: api.Message{ChatID: 1, AuthorID: 7, Text: "oops", ClientNonce: "n-2", Timestamp: now}, Pending: true},
	}

	list, removed := removeByNonce(list, "n-2")
	require.True(t, removed)
	require.Len(t, list, 1)

	list, removed = removeByNonce(list, "n-2")
	require.False(t, removed)
	require.Len(t, list, 1)
}

func TestUnreadHighWaterMarkSkipsOwnAndPending(t *testing.T) {
	now := time.Now()
	list := []Message{
		{Message: text(10, 1, 2, "a", now)},
		{Message: text(11, 1, 7, "mine", now)},
		{Message: api.Message{ChatID: 1, AuthorID: 2, Text: "p", ClientNonce: "n", Timestamp: now}, Pending: true},
		{Message: text(12, 1, 2, "b", now)},
	}

	require.Equal(t, int64(12), unreadHighWaterMark(list, 7))

	require.True(t, markReadUpTo(list, 7, 12))
	require.True(t, list[0].IsRead)
	require.False(t, list[1].IsRead) // own message untouched
	require.True(t, list[3].IsRead)
	require.Equal(t, int64(0), unreadHighWaterMark(list, 7))
}

func TestMarkOwnReadFlipsOnlyListedIDs(t *testing.T) {
	now := time.Now()
	list := []Message{
		{Message: text(10, 1, 7, "a", now)},
		{Message: text(11, 1, 7, "b", now)},
		{Message: text(12, 1, 2, "theirs", now)},
	}

	require.True(t, markOwnRead(list, 7, []int64{10}))
	require.True(t, list[0].IsRead)
	require.False(t, list[1].IsRead)
	require.False(t, list[2].IsRead)

	require.False(t, markOwnRead(list, 7, []int64{10}))
}

func TestBuildViewDateDividers(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	list := []Message{
		{Message: text(10, 1, 2, "morning", d1)},
		{Message: text(11, 1, 2, "night", d1.Add(13 * time.Hour))},   // same day, 23:00
		{Message: text(12, 1, 2, "next", d1.Add(14*time.Hour + time.Minute))}, // 00:01 next day
	}
	for i := range list {
		list[i].IsRead = true
	}

	rows := buildView(list, 7)

	require.Len(t, rows, 5)
	require.Equal(t, RowDateDivider, rows[0].Kind)
	require.Equal(t, "2026-03-01", rows[0].Date)
	require.Equal(t, RowMessage, rows[1].Kind)
	require.Equal(t, RowMessage, rows[2].Kind)
	require.Equal(t, RowDateDivider, rows[3].Kind)
	require.Equal(t, "2026-03-02", rows[3].Date)
	require.Equal(t, RowMessage, rows[4].Kind)
}

func TestBuildViewSingleUnreadDivider(t *testing.T) {
	now := time.Now()
	list := []Message{
		{Message: text(10, 1, 2, "read", now)},
		{Message: text(11, 1, 2, "unread1", now)},
		{Message: text(12, 1, 2, "unread2", now)},
	}
	list[0].IsRead = true

	rows := buildView(list, 7)

	dividers := 0
	for i, r := range rows {
		if r.Kind == RowUnreadDivider {
			dividers++
			require.Equal(t, RowMessage, rows[i+1].Kind)
			require.Equal(t, int64(11), rows[i+1].Msg.ID)
		}
	}
	require.Equal(t, 1, dividers)
}

func TestBuildViewNoUnreadDividerForOwnMessages(t *testing.T) {
	now := time.Now()
	list := []Message{
		{Message: text(10, 1, 7, "mine", now)},
	}

	for _, r := range buildView(list, 7) {
		require.NotEqual(t, RowUnreadDivider, r.Kind)
	}
}
