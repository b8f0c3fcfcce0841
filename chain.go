package wren

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// UnknownCommand is the verb under which a fallback handler for
// unrecognized commands registers.
const UnknownCommand = "UNKNOWN"

// HandlerChain is the wired, ordered handler list of one protocol.
type HandlerChain[S any] struct {
	handlers   []any
	commands   map[string]CommandHandler[S]
	connect    []ConnectHandler[S]
	disconnect []DisconnectHandler[S]
}

// NewHandlerChain wires handlers and indexes their commands. Every
// ExtensibleHandler is given the complete list. When two handlers register
// the same verb the later one wins, which lets a protocol variant replace
// a handler by appending its own. Each verb in required must be handled.
//
// Any failure is returned as *WiringError.
func NewHandlerChain[S any](handlers []any, required ...string) (*HandlerChain[S], error) {
	if len(handlers) == 0 {
		return nil, &WiringError{Handler: "chain", Capability: "handlers", Err: ErrNoHandlers}
	}

	c := &HandlerChain[S]{
		handlers: slices.Clone(handlers),
		commands: make(map[string]CommandHandler[S]),
	}

	for _, h := range c.handlers {
		ext, ok := h.(ExtensibleHandler)
		if !ok {
			continue
		}
		if err := ext.WireExtensions(c.handlers); err != nil {
			var we *WiringError
			if errors.As(err, &we) {
				return nil, we
			}
			return nil, &WiringError{Handler: handlerName(h), Capability: "extensions", Err: err}
		}
	}

	for _, h := range c.handlers {
		if ch, ok := h.(CommandHandler[S]); ok {
			for _, verb := range ch.Commands() {
				c.commands[strings.ToUpper(verb)] = ch
			}
		}
		if ch, ok := h.(ConnectHandler[S]); ok {
			c.connect = append(c.connect, ch)
		}
		if dh, ok := h.(DisconnectHandler[S]); ok {
			c.disconnect = append(c.disconnect, dh)
		}
	}

	for _, verb := range required {
		if _, ok := c.commands[strings.ToUpper(verb)]; !ok {
			return nil, &WiringError{Handler: "chain", Capability: "command " + strings.ToUpper(verb)}
		}
	}

	return c, nil
}

// Handlers returns a copy of the wired handler list.
func (c *HandlerChain[S]) Handlers() []any {
	return slices.Clone(c.handlers)
}

// CommandHandler returns the handler registered for verb.
func (c *HandlerChain[S]) CommandHandler(verb string) (CommandHandler[S], bool) {
	h, ok := c.commands[strings.ToUpper(verb)]
	return h, ok
}

// Commands returns the registered verbs in sorted order, without the
// unknown-command fallback.
func (c *HandlerChain[S]) Commands() []string {
	verbs := slices.Sorted(maps.Keys(c.commands))
	return slices.DeleteFunc(verbs, func(v string) bool { return v == UnknownCommand })
}

// ConnectHandlers returns the handlers run when a client connects.
func (c *HandlerChain[S]) ConnectHandlers() []ConnectHandler[S] { return c.connect }

// DisconnectHandlers returns the handlers run when a connection ends.
func (c *HandlerChain[S]) DisconnectHandlers() []DisconnectHandler[S] { return c.disconnect }

func handlerName(h any) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", h), "*")
}
