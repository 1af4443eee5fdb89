// Package event turns raw realtime frames into one closed set of canonical
// chat events. Nothing past this package branches on wire shape.
package event

import (
	"fmt"

	"github.com/eduplatform/chatcore/internal/model"
)

type Kind string

const (
	KindConnected       Kind = "connected"
	KindMessageReceived Kind = "message_received"
	KindMessageEdited   Kind = "message_edited"
	KindMessageDeleted  Kind = "message_deleted"
	KindReadReceipt     Kind = "read_receipt"
	KindTyping          Kind = "typing"
	KindTransportError  Kind = "transport_error"
)

// Event is the canonical form of one inbound frame.
// Message is set for the message kinds, Typing for KindTyping,
// Receipt for KindReadReceipt and Reason for KindTransportError.
type Event struct {
	Kind    Kind
	GroupID int64
	Message *model.Message
	Typing  *model.TypingSignal
	Receipt *ReadReceipt
	Reason  string
}

// ReadReceipt reports that UserID has read GroupID up to MessageID.
type ReadReceipt struct {
	UserID    int64 `json:"user_id"`
	MessageID int64 `json:"message_id"`
}

// DecodeError is returned for frames that are not valid JSON objects.
type DecodeError struct {
	Raw   []byte
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", len(e.Raw), e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }
