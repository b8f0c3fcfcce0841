package wren

import (
	"strings"
)

// Command is one parsed command line: an upper-cased verb and the raw
// remainder of the line.
type Command struct {
	Verb string
	Args string
}

// ParseCommand splits a command line into verb and argument. The verb is
// upper-cased; the argument keeps its case and loses surrounding spaces.
func ParseCommand(line string) Command {
	verb, args, _ := strings.Cut(line, " ")
	return Command{
		Verb: strings.ToUpper(verb),
		Args: strings.TrimSpace(args),
	}
}

// CommandHandler handles one or more command verbs.
//
// OnCommand returns the reply to write. A nil reply means the handler has
// already written everything it needed to; a non-nil error is an internal
// failure that ends the connection.
type CommandHandler[S any] interface {
	Commands() []string
	OnCommand(s S, cmd Command) (*Response, error)
}

// LineHandler receives raw lines while it is pushed on the interpreter stack.
type LineHandler[S any] interface {
	OnLine(s S, line []byte) (*Response, error)
}

// LineHandlerFunc adapts a function to LineHandler.
type LineHandlerFunc[S any] func(s S, line []byte) (*Response, error)

func (f LineHandlerFunc[S]) OnLine(s S, line []byte) (*Response, error) {
	return f(s, line)
}

// ConnectHandler runs once a connection is accepted, in chain order. A
// reply with EndSession set stops the remaining handlers and closes the
// connection.
type ConnectHandler[S any] interface {
	OnConnect(s S) (*Response, error)
}

// DisconnectHandler runs after the connection has been closed.
type DisconnectHandler[S any] interface {
	OnDisconnect(s S)
}

// ExtensibleHandler is implemented by handlers that collect capabilities
// from the rest of the chain. WireExtensions is called once with the full
// handler list before the server accepts connections.
type ExtensibleHandler interface {
	WireExtensions(handlers []any) error
}

// LineInterpreter is a line handler bound to its session, as stored on the
// transport's stack.
type LineInterpreter interface {
	Interpret(line []byte) (*Response, error)
}

type boundLineHandler[S any] struct {
	session S
	handler LineHandler[S]
}

func (b boundLineHandler[S]) Interpret(line []byte) (*Response, error) {
	return b.handler.OnLine(b.session, line)
}

// BindLineHandler binds h to sess.
func BindLineHandler[S any](sess S, h LineHandler[S]) LineInterpreter {
	return boundLineHandler[S]{session: sess, handler: h}
}

// HandlersOf returns every handler in the list implementing T, in order.
func HandlersOf[T any](handlers []any) []T {
	var out []T
	for _, h := range handlers {
		if t, ok := h.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
