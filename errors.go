package wren

import (
	"errors"
	"fmt"

	wrenio "github.com/synqronlabs/wren/io"
)

var (
	ErrServerClosed   = errors.New("wren: server closed")
	ErrTLSUnavailable = errors.New("wren: STARTTLS not available")
	ErrTLSActive      = errors.New("wren: TLS already active")
	ErrTLSInProgress  = errors.New("wren: TLS negotiation in progress")
	ErrTLSHandshake   = errors.New("wren: TLS handshake failed")
	ErrNoHandlers     = errors.New("wren: empty handler list")

	// Framing errors reported by the line reader. The connection survives them.
	ErrLineTooLong   = wrenio.ErrLineTooLong
	ErrBadLineEnding = wrenio.ErrBadLineEnding
)

// WiringError reports a handler chain that cannot be assembled: a handler
// needs a capability nobody provides, or a required command is missing.
// Servers refuse to start on it.
type WiringError struct {
	Handler    string
	Capability string
	Err        error
}

func (e *WiringError) Error() string {
	msg := fmt.Sprintf("wren: wiring %s: missing %s", e.Handler, e.Capability)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WiringError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a failure raised while a handler processed a line.
// It is translated into a transient failure reply and the connection is
// closed.
type HandlerError struct {
	Command string
	Err     error
	Panic   any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("wren: handler for %s panicked: %v", e.Command, e.Panic)
	}
	return fmt.Sprintf("wren: handler for %s failed: %v", e.Command, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsFramingError reports whether err is a recoverable line framing error.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrLineTooLong) || errors.Is(err, ErrBadLineEnding)
}
