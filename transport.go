package wren

import (
	"io"
	"net"
	"sync"
)

// Transport is the connection seen by handlers. Writes are safe for
// concurrent use; the interpreter stack is only touched by the goroutine
// driving the session.
type Transport interface {
	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	// WriteResponse writes and flushes one reply.
	WriteResponse(resp Response) error
	// WriteStream copies r to the client and returns once r is drained and
	// flushed.
	WriteStream(r io.Reader) error

	PushLineHandler(h LineInterpreter)
	// PopLineHandler removes the most recently pushed interpreter. It does
	// nothing when only the base interpreter is left.
	PopLineHandler()
	// LineHandlerCount returns the number of pushed interpreters, the base
	// interpreter excluded.
	LineHandlerCount() int
	// TopLineHandler returns the most recently pushed interpreter.
	TopLineHandler() (LineInterpreter, bool)

	// StartTLS writes announce in the clear, then upgrades the connection.
	// No line is read between the two.
	StartTLS(announce Response) error
	IsTLS() bool
	IsStartTLSSupported() bool

	Close() error
}

// LineStack holds the interpreters pushed above the base interpreter.
// Transports embed it.
type LineStack struct {
	mu     sync.Mutex
	pushed []LineInterpreter
}

// PushLineHandler makes h receive every line until it is popped.
func (st *LineStack) PushLineHandler(h LineInterpreter) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pushed = append(st.pushed, h)
}

// PopLineHandler removes the most recently pushed interpreter, if any.
func (st *LineStack) PopLineHandler() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if n := len(st.pushed); n > 0 {
		st.pushed[n-1] = nil
		st.pushed = st.pushed[:n-1]
	}
}

// LineHandlerCount returns the number of pushed interpreters.
func (st *LineStack) LineHandlerCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.pushed)
}

// TopLineHandler returns the interpreter that receives the next line.
func (st *LineStack) TopLineHandler() (LineInterpreter, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if n := len(st.pushed); n > 0 {
		return st.pushed[n-1], true
	}
	return nil, false
}

// ResetLineHandlers drops every pushed interpreter.
func (st *LineStack) ResetLineHandlers() {
	st.mu.Lock()
	defer st.mu.Unlock()
	clear(st.pushed)
	st.pushed = st.pushed[:0]
}
