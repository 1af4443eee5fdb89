package ws

import (
	"errors"
	"fmt"

	"github.com/eduplatform/chatcore/internal/model"
)

var (
	// ErrConnectCancelled is returned to Connect callers still waiting when Disconnect runs.
	ErrConnectCancelled = errors.New("ws: connect cancelled")
	// ErrReconnectExhausted is reported through the state handler once the reconnect budget is spent.
	ErrReconnectExhausted = errors.New("ws: reconnect attempts exhausted")
	// ErrFallbackActive is reported through the state handler when every candidate failed.
	ErrFallbackActive = errors.New("ws: realtime unavailable, polling fallback active")
	ErrTransportUnavailable = errors.New("ws: transport unavailable")
)

// TransportUnavailableError is returned by Send when there is neither an open
// socket nor an active fallback.
type TransportUnavailableError struct {
	State model.ConnectionState
}

func (e *TransportUnavailableError) Error() string {
	return fmt.Sprintf("ws: transport unavailable (state=%s)", e.State)
}

func (e *TransportUnavailableError) Is(target error) bool {
	return target == ErrTransportUnavailable
}

// EstablishError describes one failed candidate. It never leaves the package
// except through logs.
type EstablishError struct {
	URL   string
	Cause error
}

func (e *EstablishError) Error() string {
	return fmt.Sprintf("ws: establish %s: %v", e.URL, e.Cause)
}

func (e *EstablishError) Unwrap() error { return e.Cause }
