package chat

import (
	"github.com/devduel/devduel/internal/api"
	"github.com/devduel/devduel/internal/util"
)

// Pure reconciliation over the held message list. Everything here is free of
// I/O so the merge rules can be tested in isolation from the transport.

// appendOrReplace merges one incoming server message into the list.
//
// Match order:
//  1. client nonce — the echo of an optimistic local send; the pending entry
//     is replaced in place so the list never shows the text twice;
//  2. message id — a redelivery (reconnect replay); replaced, not appended;
//  3. otherwise appended in arrival order.
func appendOrReplace(list []Message, incoming api.Message) []Message {
	if incoming.ClientNonce != "" {
		for i := range list {
			if list[i].Pending && list[i].ClientNonce == incoming.ClientNonce {
				list[i] = Message{Message: incoming}
				return list
			}
		}
	}

	if incoming.ID != 0 {
		for i := range list {
			if !list[i].Pending && list[i].ID == incoming.ID {
				list[i] = Message{Message: incoming}
				return list
			}
		}
	}

	return append(list, Message{Message: incoming})
}

// removeByNonce drops a pending optimistic entry (send rollback). Returns
// the new list and whether anything was removed.
func removeByNonce(list []Message, nonce string) ([]Message, bool) {
	for i := range list {
		if list[i].Pending && list[i].ClientNonce == nonce {
			return append(list[:i], list[i+1:]...), true
		}
	}
	return list, false
}

// removeByID drops a confirmed message (delete event).
func removeByID(list []Message, id int64) ([]Message, bool) {
	for i := range list {
		if !list[i].Pending && list[i].ID == id {
			return append(list[:i], list[i+1:]...), true
		}
	}
	return list, false
}

// mergeHistory folds live events that raced the history fetch into the
// fetched page. History is already chronological; buffered events are
// replayed in arrival order through the same merge rules, so nothing is
// dropped and nothing duplicates.
func mergeHistory(history []api.Message, buffered []api.Message) []Message {
	list := make([]Message, 0, len(history)+len(buffered))
	for _, m := range history {
		list = append(list, Message{Message: m})
	}
	for _, m := range buffered {
		list = appendOrReplace(list, m)
	}
	return list
}

// markReadUpTo flips IsRead on messages not authored by self with id at or
// below hwm. Returns whether anything changed.
func markReadUpTo(list []Message, selfID, hwm int64) bool {
	changed := false
	for i := range list {
		m := &list[i]
		if m.AuthorID != selfID && !m.IsRead && !m.Pending && m.ID <= hwm {
			m.IsRead = true
			changed = true
		}
	}
	return changed
}

// markOwnRead flips IsRead on own messages whose id is in the given set
// (the peer's messages_read_by_other event).
func markOwnRead(list []Message, selfID int64, ids []int64) bool {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	changed := false
	for i := range list {
		m := &list[i]
		if m.AuthorID != selfID || m.IsRead || m.Pending {
			continue
		}
		if _, ok := set[m.ID]; ok {
			m.IsRead = true
			changed = true
		}
	}
	return changed
}

// unreadHighWaterMark returns the highest confirmed id among unread foreign
// messages, or 0 when there is nothing to mark.
func unreadHighWaterMark(list []Message, selfID int64) int64 {
	var hwm int64
	for i := range list {
		m := &list[i]
		if m.AuthorID != selfID && !m.IsRead && !m.Pending && m.ID > hwm {
			hwm = m.ID
		}
	}
	return hwm
}

// buildView derives the rendered row list: a date divider before the first
// message and before every local-calendar-day change, and at most one unread
// divider immediately before the first unread message not authored by self.
func buildView(list []Message, selfID int64) []Row {
	rows := make([]Row, 0, len(list)+4)
	unreadPlaced := false

	for i := range list {
		m := &list[i]

		if i == 0 || !util.SameCalendarDay(list[i-1].Timestamp, m.Timestamp) {
			rows = append(rows, Row{Kind: RowDateDivider, Date: dateLabel(m.Timestamp)})
		}

		if !unreadPlaced && m.AuthorID != selfID && !m.IsRead && !m.Pending {
			rows = append(rows, Row{Kind: RowUnreadDivider})
			unreadPlaced = true
		}

		rows = append(rows, Row{Kind: RowMessage, Msg: m})
	}

	return rows
}
