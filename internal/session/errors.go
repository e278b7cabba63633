package session

import (
	"errors"
	"fmt"

	"github.com/synchronvoice/synchron/internal/device"
)

// ErrPermission indicates that the microphone is unavailable or access to it
// was denied. Not retryable without user action.
var ErrPermission = errors.New("session: microphone unavailable or permission denied")

// ErrAlreadyRunning is returned by Start when a session is connecting or
// connected.
var ErrAlreadyRunning = errors.New("session: already running")

// TransportError wraps a network or session-level failure. Transport errors
// tear down the session; whether a reconnect is attempted depends on the
// configured policy.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classifyError maps a raw failure to one of the user-facing error kinds.
// Device failures become permission errors; everything else is transport.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermission) || errors.Is(err, device.ErrNoDevice) {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Err: err}
}
