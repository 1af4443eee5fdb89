package event

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/eduplatform/chatcore/internal/logger"
	"github.com/eduplatform/chatcore/internal/model"
)

// frame covers both envelope generations:
//
//	{"event": "message", "message": {...}}          current
//	{"type": "message", "group_id": 5, "data": {...}} legacy
type frame struct {
	Event   *string         `json:"event"`
	Type    string          `json:"type"`
	GroupID int64           `json:"group_id"`
	UserID  int64           `json:"user_id"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`

	// read_receipt and typing carry their fields inline in the current envelope.
	MessageID int64  `json:"message_id"`
	Username  string `json:"username"`
	IsTyping  *bool  `json:"is_typing"`
	Detail    string `json:"detail"`
}

type typingData struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// Normalize decodes one raw frame. ok is false when the frame is valid JSON
// but carries nothing the store understands; such frames are dropped.
func Normalize(raw []byte) (ev Event, ok bool, err error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, false, &DecodeError{Raw: raw, Cause: err}
	}
	if f.Event != nil {
		ev, ok = fromEventEnvelope(f)
	} else {
		ev, ok = fromLegacyEnvelope(f)
	}
	if !ok {
		logger.Debugf("event: dropped frame event=%q type=%q", deref(f.Event), f.Type)
	}
	return ev, ok, nil
}

func fromEventEnvelope(f frame) (Event, bool) {
	switch *f.Event {
	case "connected":
		return Event{Kind: KindConnected}, true
	case "message":
		return messageEvent(KindMessageReceived, f.Message, f.GroupID)
	case "message_edited":
		return messageEvent(KindMessageEdited, firstPresent(f.Message, f.Data), f.GroupID)
	case "message_deleted":
		return messageEvent(KindMessageDeleted, firstPresent(f.Message, f.Data), f.GroupID)
	case "read_receipt":
		if f.GroupID == 0 {
			return Event{}, false
		}
		return Event{
			Kind:    KindReadReceipt,
			GroupID: f.GroupID,
			Receipt: &ReadReceipt{UserID: f.UserID, MessageID: f.MessageID},
		}, true
	case "typing":
		if len(f.Data) > 0 {
			return typingEvent(f.GroupID, f.Data)
		}
		if f.GroupID == 0 || f.UserID == 0 || f.IsTyping == nil {
			return Event{}, false
		}
		return Event{
			Kind:    KindTyping,
			GroupID: f.GroupID,
			Typing: &model.TypingSignal{
				GroupID:  f.GroupID,
				UserID:   f.UserID,
				Username: f.Username,
				IsTyping: *f.IsTyping,
			},
		}, true
	case "error":
		return Event{Kind: KindTransportError, Reason: errorReason(f)}, true
	}
	return Event{}, false
}

func fromLegacyEnvelope(f frame) (Event, bool) {
	if len(f.Data) == 0 || f.GroupID == 0 {
		return Event{}, false
	}
	switch f.Type {
	case "message":
		return messageEvent(KindMessageReceived, f.Data, f.GroupID)
	case "message_edited":
		return messageEvent(KindMessageEdited, f.Data, f.GroupID)
	case "message_deleted":
		return messageEvent(KindMessageDeleted, f.Data, f.GroupID)
	case "typing":
		return typingEvent(f.GroupID, f.Data)
	}
	// user_joined, user_left and anything newer have no canonical form yet.
	return Event{}, false
}

// messageEvent requires a message object with an id and a resolvable group.
// The envelope group wins over a missing inner group_id.
func messageEvent(kind Kind, raw json.RawMessage, envelopeGroup int64) (Event, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return Event{}, false
	}
	var msg model.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Errorf("event: bad %s payload: %v", kind, err)
		return Event{}, false
	}
	if msg.GroupID == 0 {
		msg.GroupID = envelopeGroup
	}
	if msg.GroupID == 0 || msg.ID == 0 {
		return Event{}, false
	}
	return Event{Kind: kind, GroupID: msg.GroupID, Message: &msg}, true
}

func typingEvent(groupID int64, raw json.RawMessage) (Event, bool) {
	if groupID == 0 {
		return Event{}, false
	}
	var td typingData
	if err := json.Unmarshal(raw, &td); err != nil || td.UserID == 0 {
		return Event{}, false
	}
	return Event{
		Kind:    KindTyping,
		GroupID: groupID,
		Typing: &model.TypingSignal{
			GroupID:  groupID,
			UserID:   td.UserID,
			Username: td.Username,
			IsTyping: td.IsTyping,
		},
	}, true
}

func errorReason(f frame) string {
	if f.Detail != "" {
		return f.Detail
	}
	var s string
	if len(f.Message) > 0 && json.Unmarshal(f.Message, &s) == nil {
		return s
	}
	return "server reported an error"
}

func firstPresent(a, b json.RawMessage) json.RawMessage {
	if len(a) > 0 && strings.TrimSpace(string(a)) != "null" {
		return a
	}
	return b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IsDecodeError reports whether err came from a malformed frame.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
