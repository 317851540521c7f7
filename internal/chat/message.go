package chat

import (
	"time"

	"github.com/devduel/devduel/internal/api"
)

// Message is one transcript entry as held by the client. Pending marks an
// optimistic local send that the server has not confirmed yet; such entries
// have ID 0 and are identified by their ClientNonce until the echo arrives.
type Message struct {
	api.Message
	Pending bool `json:"pending"`
}

// RowKind discriminates the rows of the rendered transcript.
type RowKind string

const (
	RowMessage       RowKind = "message"
	RowDateDivider   RowKind = "date_divider"
	RowUnreadDivider RowKind = "unread_divider"
)

// Row is one line of the derived conversation view: a message, a calendar
// date divider, or the single unread marker.
type Row struct {
	Kind RowKind  `json:"kind"`
	Date string   `json:"date,omitempty"`
	Msg  *Message `json:"message,omitempty"`
}

func dateLabel(t time.Time) string {
	return t.Local().Format("2006-01-02")
}
