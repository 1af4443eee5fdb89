package chat

import (
	"errors"
	"fmt"

	"github.com/eduplatform/chatcore/internal/auth"
)

var (
	// ErrNoCredential is wrapped in a PreconditionError when the auth source has no token.
	ErrNoCredential  = auth.ErrNoCredential
	ErrEmptyMessage  = errors.New("chat: message needs text or a file")
	ErrSessionClosed = errors.New("chat: session closed")
)

// PreconditionError means Open refused to start: nothing was dialed and a
// retry without new input will fail the same way.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("chat: precondition failed: %v", e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }
