package wren

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"
)

// Reply texts of the error translation layer.
const (
	msgLineTooLong      = "Line length exceeded. See RFC 2821 #4.5.3.1."
	msgBadLineEnding    = "Line must be terminated with CRLF"
	msgUnableToProcess  = "Unable to process request"
	verbInterpreterLine = "LINE"
)

// Dispatcher routes lines of one session: to the most recently pushed
// interpreter when there is one, else by verb to the chain's command
// handlers. It is also the point where failures become replies.
type Dispatcher[S ProtocolSession] struct {
	chain    *HandlerChain[S]
	protocol string
}

// NewDispatcher creates the base interpreter for chain. protocol labels
// metrics and logs.
func NewDispatcher[S ProtocolSession](chain *HandlerChain[S], protocol string) *Dispatcher[S] {
	return &Dispatcher[S]{chain: chain, protocol: protocol}
}

// Chain returns the handler chain the dispatcher routes to.
func (d *Dispatcher[S]) Chain() *HandlerChain[S] {
	return d.chain
}

// Connect runs the connect handlers and writes their replies. It returns
// false when the connection must be closed.
func (d *Dispatcher[S]) Connect(s S) bool {
	for _, h := range d.chain.ConnectHandlers() {
		resp, err := d.safely(s, "CONNECT", func() (*Response, error) { return h.OnConnect(s) })
		if err != nil {
			return d.internalError(s, err)
		}
		if resp == nil {
			continue
		}
		if !d.write(s, *resp) || resp.EndSession {
			return false
		}
	}
	return true
}

// Disconnect runs the disconnect handlers. Panics are logged and swallowed.
func (d *Dispatcher[S]) Disconnect(s S) {
	for _, h := range d.chain.DisconnectHandlers() {
		_, _ = d.safely(s, "DISCONNECT", func() (*Response, error) {
			h.OnDisconnect(s)
			return nil, nil
		})
	}
}

// Handle processes one line and writes the reply. It returns false when the
// connection must be closed.
func (d *Dispatcher[S]) Handle(s S, line []byte) bool {
	start := time.Now()
	t := s.Base().Transport()

	var (
		resp *Response
		err  error
		verb string
	)
	if top, ok := t.TopLineHandler(); ok {
		verb = verbInterpreterLine
		resp, err = d.safely(s, verb, func() (*Response, error) { return top.Interpret(line) })
	} else {
		cmd := ParseCommand(string(line))
		verb = cmd.Verb
		resp, err = d.safely(s, verb, func() (*Response, error) { return d.dispatch(s, cmd) })
		if _, known := d.chain.commands[verb]; !known {
			verb = UnknownCommand
		}
	}

	if err != nil {
		return d.internalError(s, err)
	}
	if resp == nil {
		return true
	}

	metricCommands.WithLabelValues(d.protocol, verb, strconv.Itoa(int(resp.Code))).Observe(time.Since(start).Seconds())
	return d.write(s, *resp) && !resp.EndSession
}

// OnLine dispatches a command line by verb. It implements LineHandler so a
// protocol can re-enter command dispatch from a pushed interpreter.
func (d *Dispatcher[S]) OnLine(s S, line []byte) (*Response, error) {
	return d.dispatch(s, ParseCommand(string(line)))
}

func (d *Dispatcher[S]) dispatch(s S, cmd Command) (*Response, error) {
	h, ok := d.chain.commands[cmd.Verb]
	if !ok || cmd.Verb == UnknownCommand {
		h, ok = d.chain.commands[UnknownCommand]
		if !ok {
			resp := ResponseCommandNotRecognized(cmd.Verb)
			return &resp, nil
		}
	}
	return h.OnCommand(s, cmd)
}

// HandleReadError translates a read failure. Framing errors are answered
// and the connection stays open; anything else ends the connection without
// a reply. It returns false when the connection must be closed.
func (d *Dispatcher[S]) HandleReadError(s S, err error) bool {
	switch {
	case errors.Is(err, ErrLineTooLong):
		metricErrors.WithLabelValues(d.protocol, "linetoolong").Inc()
		return d.write(s, Response{Code: CodeCommandUnrecognized, Message: msgLineTooLong})
	case errors.Is(err, ErrBadLineEnding):
		metricErrors.WithLabelValues(d.protocol, "badlineending").Inc()
		return d.write(s, Response{Code: CodeSyntaxError, EnhancedCode: ESCSyntaxError, Message: msgBadLineEnding})
	default:
		s.Base().Logger().Debug("read failed", slog.Any("error", err))
		return false
	}
}

// safely runs fn and converts a panic into a *HandlerError.
func (d *Dispatcher[S]) safely(s S, verb string, fn func() (*Response, error)) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			metricErrors.WithLabelValues(d.protocol, "panic").Inc()
			s.Base().Logger().Error("panic in handler",
				slog.String("command", verb),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			resp, err = nil, &HandlerError{Command: verb, Panic: r}
		}
	}()
	resp, err = fn()
	if err != nil {
		var he *HandlerError
		if !errors.As(err, &he) {
			err = &HandlerError{Command: verb, Err: err}
		}
	}
	return resp, err
}

// internalError answers with a transient failure and always closes.
func (d *Dispatcher[S]) internalError(s S, err error) bool {
	metricErrors.WithLabelValues(d.protocol, "internal").Inc()
	s.Base().Logger().Error("unable to process request", slog.Any("error", err))
	d.write(s, ResponseLocalError(msgUnableToProcess))
	return false
}

func (d *Dispatcher[S]) write(s S, resp Response) bool {
	if err := s.Base().Transport().WriteResponse(resp); err != nil {
		metricErrors.WithLabelValues(d.protocol, "write").Inc()
		s.Base().Logger().Debug("write failed", slog.String("reply", resp.String()), slog.Any("error", err))
		return false
	}
	return true
}
