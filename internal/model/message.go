package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DeletedText replaces the text of a tombstoned message.
const DeletedText = "Message deleted"

type Message struct {
	ID          int64      `json:"id"`
	GroupID     int64      `json:"group_id"`
	UserID      int64      `json:"user_id"`
	Text        string     `json:"text"`
	CreatedDate Timestamp  `json:"created_date"`
	IsDeleted   bool       `json:"is_deleted"`
	EditedAt    *Timestamp `json:"edited_at"`
	FileURL     string     `json:"file_url,omitempty"`
	FileType    string     `json:"file_type,omitempty"`
}

// MessagesPage is one newest-window page of a conversation's history.
type MessagesPage struct {
	GroupID  int64     `json:"group_id"`
	Items    []Message `json:"items"`
	HasMore  bool      `json:"has_more"`
	BeforeID int64     `json:"before_id"`
}

// Timestamp accepts the layouts the backend is known to emit
// (RFC 3339 with or without zone, space separated) and null.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unsupported layout %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// OutgoingMessage is what the client sends to post a chat message, both as a
// realtime frame and as the create-message request body.
type OutgoingMessage struct {
	GroupID  int64  `json:"group_id"`
	Text     string `json:"text"`
	FileURL  string `json:"file_url,omitempty"`
	FileType string `json:"file_type,omitempty"`
}
