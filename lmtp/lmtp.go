// Package lmtp implements the Local Mail Transfer Protocol (RFC 2033) on
// top of the smtp handlers.
//
// LMTP differs from SMTP in three places: clients greet with LHLO, there is
// no STARTTLS, and the end of DATA is answered with one reply per accepted
// recipient, in RCPT order.
package lmtp

import (
	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/smtp"
)

// DeliverToRecipientHook delivers a received message to one recipient. It
// is called once per recipient; its result becomes that recipient's reply.
type DeliverToRecipientHook interface {
	Deliver(s *smtp.Session, rcpt smtp.Path, mail *smtp.Mail) wren.HookResult
}

// DefaultHandlers returns a fresh LMTP handler list.
func DefaultHandlers() []any {
	return []any{
		&smtp.WelcomeMessageHandler{Protocol: "LMTP"},
		smtp.NewEhloCmdHandler(smtp.ModeLhlo),
		&smtp.MailCmdHandler{},
		&smtp.RcptCmdHandler{},
		&smtp.DataCmdHandler{},
		smtp.RsetCmdHandler{},
		smtp.NoopCmdHandler{},
		&smtp.QuitCmdHandler{},
		&smtp.UnsupportedCmdHandler{Verbs: []string{"VRFY", "EXPN"}},
		&smtp.HelpCmdHandler{},
		&smtp.UnknownCmdHandler{},
		smtp.MailSizeEsmtpExtension{},
		&smtp.ReceivedDataLineFilter{},
		&DataLineDeliverHandler{},
	}
}

// NewChain wires handlers into an LMTP handler chain.
func NewChain(handlers []any) (*wren.HandlerChain[*smtp.Session], error) {
	return smtp.NewChain(handlers)
}

// New creates a Builder for an LMTP server listening on port 24 by default.
func New(hostname string) *smtp.Builder {
	return smtp.NewBuilder("lmtp", hostname, DefaultHandlers).Addr(":24")
}
