package smtp

import (
	"bytes"
	"strings"

	"github.com/synqronlabs/wren"
)

// Handler types of the SMTP chain.
type (
	LineHandler    = wren.LineHandler[*Session]
	CommandHandler = wren.CommandHandler[*Session]
)

// HELO modes recorded under HeloModeKey.
const (
	ModeHelo = "HELO"
	ModeEhlo = "EHLO"
	ModeLhlo = "LHLO"
)

// Session attachments written by the default handlers.
var (
	// SenderKey holds the reverse-path accepted by MAIL.
	SenderKey = wren.TransactionKey[Path]("smtp.sender")
	// RecipientsKey holds the forward-paths accepted by RCPT, in order.
	RecipientsKey = wren.TransactionKey[[]Path]("smtp.recipients")
	// MailParamsKey holds the MAIL parameters, upper-cased names.
	MailParamsKey = wren.TransactionKey[map[string]string]("smtp.mail_params")
	// DataBufferKey holds the message received so far in the data phase.
	DataBufferKey = wren.TransactionKey[*bytes.Buffer]("smtp.data")
	// DeclaredSizeKey holds the SIZE parameter of MAIL.
	DeclaredSizeKey = wren.TransactionKey[int64]("smtp.size")
	// SizeExceededKey is set once the data phase passes MaxMessageSize.
	SizeExceededKey = wren.TransactionKey[bool]("smtp.size_exceeded")

	// HeloNameKey holds the client's HELO/EHLO/LHLO argument.
	HeloNameKey = wren.ConnectionKey[string]("smtp.helo")
	// HeloModeKey holds the greeting command the client used.
	HeloModeKey = wren.ConnectionKey[string]("smtp.helo_mode")
)

// Session is the SMTP view of a connection.
type Session struct {
	*wren.Session

	config   *Config
	relaying bool
}

// NewSessionFactory returns the factory building SMTP sessions for cfg.
func NewSessionFactory(cfg *Config) wren.SessionFactory[*Session] {
	return func(base *wren.Session) *Session {
		return &Session{
			Session:  base,
			config:   cfg,
			relaying: cfg.isRelayNetwork(base.RemoteIP()),
		}
	}
}

// Config returns the protocol configuration.
func (s *Session) Config() *Config { return s.config }

// IsRelayingAllowed reports whether the client may send to any domain.
func (s *Session) IsRelayingAllowed() bool { return s.relaying }

// SetRelayingAllowed overrides the relay decision made from RelayNetworks.
func (s *Session) SetRelayingAllowed(allowed bool) { s.relaying = allowed }

// HeloName returns the client's HELO argument, or "" before HELO.
func (s *Session) HeloName() string {
	name, _ := HeloNameKey.Get(s.Session)
	return name
}

// HeloMode returns "HELO", "EHLO", "LHLO" or "".
func (s *Session) HeloMode() string {
	mode, _ := HeloModeKey.Get(s.Session)
	return mode
}

// IsExtended reports whether the client greeted with EHLO or LHLO.
func (s *Session) IsExtended() bool {
	mode := s.HeloMode()
	return mode == ModeEhlo || mode == ModeLhlo
}

// Sender returns the reverse-path of the current transaction.
func (s *Session) Sender() (Path, bool) {
	return SenderKey.Get(s.Session)
}

// Recipients returns the accepted forward-paths of the current transaction.
func (s *Session) Recipients() []Path {
	rcpts, _ := RecipientsKey.Get(s.Session)
	return rcpts
}

// setHelo records the greeting and starts a fresh transaction.
func (s *Session) setHelo(mode, name string) {
	s.ResetTransaction()
	HeloModeKey.Set(s.Session, mode)
	HeloNameKey.Set(s.Session, name)
}

// forgetHelo returns the session to the state right after the greeting.
func (s *Session) forgetHelo() {
	s.ResetTransaction()
	HeloModeKey.Delete(s.Session)
	HeloNameKey.Delete(s.Session)
}

// PushLineHandler binds h to s and pushes it on the interpreter stack.
func (s *Session) PushLineHandler(h LineHandler) {
	wren.PushLineHandler(s, h)
}

// PopLineHandler removes the most recently pushed interpreter.
func (s *Session) PopLineHandler() {
	s.Transport().PopLineHandler()
}

// protocolName returns the "with" keyword of a Received header.
func (s *Session) protocolName() string {
	var proto string
	switch s.HeloMode() {
	case ModeLhlo:
		return "LMTP"
	case ModeEhlo:
		proto = "ESMTP"
	default:
		proto = "SMTP"
	}
	if s.IsTLS() {
		proto += "S"
	}
	return proto
}

// qualify appends the default domain to an address without domain part.
func (s *Session) qualify(address string) string {
	if address == "" || strings.Contains(address, "@") {
		return address
	}
	return address + "@" + s.config.DefaultDomain
}
