package api

import "time"

// User is the authenticated profile as served by GET /auth/me. The client
// never mutates it; a changed profile is picked up by re-fetching.
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	LoginHandle string `json:"loginHandle"`
	AvatarRef   string `json:"avatarRef"`
	Role        string `json:"role"`
	IsBanned    bool   `json:"isBanned"`
}

// IsAdmin reports whether the backend granted the admin role.
func (u User) IsAdmin() bool { return u.Role == "admin" }

type Participant struct {
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName"`
}

const (
	ChatKindDirect = "direct"
	ChatKindGroup  = "group"
)

// ChatInfo is conversation metadata. A direct thread that has never been
// written to does not exist on the backend yet; it materializes on first
// send via POST /chats/private.
type ChatInfo struct {
	ID            int64         `json:"id"`
	Kind          string        `json:"kind"`
	DisplayName   string        `json:"displayName"`
	Participants  []Participant `json:"participants"`
	CanSend       bool          `json:"canSend"`
	IsParticipant bool          `json:"isParticipant"`
}

const (
	MessageKindText       = "text"
	MessageKindGameInvite = "game_invite"
)

// InvitePayload is the game-invite artifact embedded in a message of kind
// game_invite. Status strings match the backend's invite lifecycle.
type InvitePayload struct {
	InviteID   string `json:"inviteId"`
	FromUserID int64  `json:"fromUserId"`
	ToUserID   int64  `json:"toUserId"`
	Status     string `json:"status"`
}

// Message is one entry of a conversation transcript. ClientNonce is echoed
// back by the server on messages that originated from this client, which is
// what lets an optimistic local entry be replaced by its confirmed twin.
type Message struct {
	ID          int64          `json:"id"`
	ChatID      int64          `json:"chatId"`
	AuthorID    int64          `json:"authorUserId"`
	AuthorName  string         `json:"authorDisplayName"`
	Kind        string         `json:"kind"`
	Text        string         `json:"text,omitempty"`
	Invite      *InvitePayload `json:"invite,omitempty"`
	ClientNonce string         `json:"clientNonce,omitempty"`
	Timestamp   time.Time      `json:"timestampUtc"`
	IsRead      bool           `json:"isRead"`
}
