package smtp

import "github.com/synqronlabs/wren"

// Hooks are policy modules consulted by the command handlers. Each command
// runs its hooks in chain order; the first decisive result becomes the reply
// and later hooks are skipped. When every hook declines the handler applies
// its default behaviour.

// ConnectHook decides whether a new connection is served.
type ConnectHook interface {
	DoConnect(s *Session) wren.HookResult
}

// HeloHook is consulted on HELO, EHLO and LHLO.
type HeloHook interface {
	DoHelo(s *Session, helo string) wren.HookResult
}

// MailHook is consulted on MAIL once the reverse-path parsed.
type MailHook interface {
	DoMail(s *Session, sender Path) wren.HookResult
}

// MailParametersHook handles the named MAIL parameters, e.g. SIZE.
type MailParametersHook interface {
	MailParameters() []string
	DoMailParameter(s *Session, name, value string) wren.HookResult
}

// RcptHook is consulted on RCPT. sender is the reverse-path of the
// transaction; rcpt already carries the default domain when it had none.
type RcptHook interface {
	DoRcpt(s *Session, sender, rcpt Path) wren.HookResult
}

// DataHook is consulted on DATA before the data phase starts.
type DataHook interface {
	DoData(s *Session) wren.HookResult
}

// MessageHook receives a completely received message.
type MessageHook interface {
	OnMessage(s *Session, mail *Mail) wren.HookResult
}

// QuitHook is consulted on QUIT. The connection closes whatever it returns.
type QuitHook interface {
	DoQuit(s *Session) wren.HookResult
}

// UnknownHook is consulted for unrecognized commands.
type UnknownHook interface {
	DoUnknown(s *Session, cmd wren.Command) wren.HookResult
}

// EhloExtension contributes keywords to the EHLO and LHLO replies.
type EhloExtension interface {
	EhloKeywords(s *Session) []string
}

// DataLineFilter sees every line of the data phase before the message
// handler. It passes the line on by calling next, possibly modified, or
// answers itself.
type DataLineFilter interface {
	OnDataLine(s *Session, line []byte, next LineHandler) (*wren.Response, error)
}

// MessageLineHandler terminates the data phase: it collects lines and
// finishes the transaction on the end-of-data marker.
type MessageLineHandler interface {
	OnMessageLine(s *Session, line []byte) (*wren.Response, error)
}

// decide returns the reply of a decisive hook result and whether the
// command may take effect.
func decide(res wren.HookResult, decided bool) (*wren.Response, bool) {
	if !decided {
		return nil, true
	}
	return res.Response(), res.Accepted()
}
