// Package wren is an extensible engine for line based mail protocols.
//
// A server is a HandlerChain of command handlers, hooks and line handlers
// driven by a Dispatcher over one Transport per connection. Protocol
// packages build on it: smtp provides ESMTP, lmtp the LMTP variant.
//
// # Server
//
// Create an SMTP server using the fluent builder API:
//
//	server, err := smtp.New("mail.example.com").
//	    Addr(":25").
//	    TLS(tlsConfig).
//	    MaxMessageSize(25 * 1024 * 1024).
//	    Use(fastfail.NewDNSRBL(resolver, "zen.spamhaus.org"), store).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.ListenAndServe(); err != wren.ErrServerClosed {
//	    log.Fatal(err)
//	}
//
// # Hooks
//
// Hooks are plain values implementing one of the hook interfaces of the
// protocol package. For each command the handler runs its filter, then its
// hooks in registration order until one returns a decisive HookResult, then
// its default behavior when none did:
//
//	type denyBob struct{}
//
//	func (denyBob) DoRcpt(s *smtp.Session, sender, rcpt smtp.Path) wren.HookResult {
//	    if rcpt.Mailbox.LocalPart == "bob" {
//	        return wren.Deny(wren.CodeMailboxNotFound, wren.ESCBadDestMailbox, "No such user")
//	    }
//	    return wren.Declined()
//	}
//
// # Wiring
//
// NewHandlerChain hands the full handler list to every ExtensibleHandler,
// which picks the hooks and capabilities it needs. A handler that lacks a
// required collaborator fails the chain with a *WiringError, so
// misconfigured servers never start.
//
// # Line handlers
//
// A handler can take over the connection by pushing a LineHandler onto the
// transport, as DATA does for the message content. Lines then bypass
// command parsing until the handler pops itself.
package wren
