package smtp

import (
	"errors"
	"log/slog"

	"github.com/synqronlabs/wren"
)

// StartTlsCmdHandler handles STARTTLS (RFC 3207).
type StartTlsCmdHandler struct{}

func (StartTlsCmdHandler) Commands() []string { return []string{"STARTTLS"} }

// EhloKeywords advertises STARTTLS while the connection is in the clear.
func (StartTlsCmdHandler) EhloKeywords(s *Session) []string {
	if s.Transport().IsStartTLSSupported() && !s.IsTLS() {
		return []string{"STARTTLS"}
	}
	return nil
}

func (StartTlsCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	t := s.Transport()
	if !t.IsStartTLSSupported() {
		resp := wren.ResponseCommandNotImplemented("STARTTLS")
		return &resp, nil
	}
	if cmd.Args != "" {
		return wren.Reply(wren.CodeSyntaxError, wren.ESCInvalidArgs, "Syntax error (no parameters allowed) with STARTTLS command"), nil
	}
	if s.IsTLS() {
		return wren.Reply(wren.CodeBadSequence, wren.ESCBadCommandSequence, "TLS already active RFC2487 5.2"), nil
	}

	err := t.StartTLS(wren.Response{Code: wren.CodeServiceReady, EnhancedCode: wren.ESCSuccess, Message: "Ready to start TLS"})
	switch {
	case err == nil:
		// RFC 3207 Section 4.2: the client must greet again.
		s.forgetHelo()
		s.Logger().Debug("TLS established")
		return nil, nil
	case errors.Is(err, wren.ErrTLSActive), errors.Is(err, wren.ErrTLSInProgress):
		return wren.Reply(wren.CodeBadSequence, wren.ESCBadCommandSequence, "TLS already active RFC2487 5.2"), nil
	default:
		// The transport is closed; the read loop ends on the next read.
		s.Logger().Warn("TLS handshake failed", slog.Any("error", err))
		return nil, nil
	}
}
