package model

import "time"

// Group is a conversation as the chat backend lists it.
type Group struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreateDate  Timestamp `json:"create_date"`
	IsPrivate   bool      `json:"is_private"`
}

// GroupDetail is a group with its member roster and the newest messages.
type GroupDetail struct {
	Group
	Count    int           `json:"count"`
	Members  []GroupMember `json:"members"`
	Messages []Message     `json:"group_message"`
}

// ChatItem is one row of the current user's conversation list.
type ChatItem struct {
	GroupID      int64    `json:"group_id"`
	Title        string   `json:"title"`
	IsPrivate    bool     `json:"is_private"`
	MembersCount int      `json:"members_count"`
	LastMessage  *Message `json:"last_message"`
	UnreadCount  int      `json:"unread_count"`
	Course       *int64   `json:"course"`
}

// TypingSignal marks a member as typing until ExpiresAt.
// At most one signal exists per (GroupID, UserID).
type TypingSignal struct {
	GroupID   int64     `json:"group_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	IsTyping  bool      `json:"is_typing"`
	ExpiresAt time.Time `json:"-"`
}

// Expired reports whether the signal is stale at now.
func (s TypingSignal) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
