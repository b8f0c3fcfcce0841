package smtp

import (
	"errors"
	"net"
	"slices"
	"strings"
	"testing"

	"github.com/synqronlabs/wren"
)

func TestEhloKeywords(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HelloName = "mx.example.com"
	cfg.MaxMessageSize = 10240
	mt := &mockTransport{startTLS: true}
	h := newHarnessWith(t, cfg, mt, DefaultHandlers())

	resp := h.expectCode("EHLO client.example.com", wren.CodeOK)
	if resp.Message != "mx.example.com Hello client.example.com [192.0.2.10]" {
		t.Errorf("Message = %q", resp.Message)
	}
	for _, kw := range []string{"PIPELINING", "ENHANCEDSTATUSCODES", "8BITMIME", "SIZE 10240", "STARTTLS"} {
		if !slices.Contains(resp.Lines, kw) {
			t.Errorf("EHLO reply lacks %q: %v", kw, resp.Lines)
		}
	}
	if h.s.HeloMode() != ModeEhlo || !h.s.IsExtended() {
		t.Errorf("HeloMode() = %q", h.s.HeloMode())
	}

	// Once TLS is up STARTTLS is no longer offered.
	mt.tls = true
	resp = h.expectCode("EHLO client.example.com", wren.CodeOK)
	if slices.Contains(resp.Lines, "STARTTLS") {
		t.Error("STARTTLS advertised over TLS")
	}
}

func TestEhloWithoutOptionalExtensions(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	resp := h.expectCode("EHLO client", wren.CodeOK)
	for _, line := range resp.Lines {
		if strings.HasPrefix(line, "SIZE") || line == "STARTTLS" {
			t.Errorf("unexpected keyword %q", line)
		}
	}
}

func TestHelo(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.expect("HELO", "501 5.5.4 Domain address required: HELO")
	h.expect("EHLO", "501 5.5.4 Domain address required: EHLO")
	h.expect("HELO client.example.com", "250 localhost Hello client.example.com [192.0.2.10]")
	if h.s.HeloMode() != ModeHelo || h.s.IsExtended() {
		t.Errorf("HeloMode() = %q", h.s.HeloMode())
	}
}

type heloDenier struct{}

func (heloDenier) DoHelo(s *Session, helo string) wren.HookResult {
	if helo == "localhost" {
		return wren.Deny(wren.CodeMailboxNotFound, wren.ESCSecurityError, "You are not localhost")
	}
	return wren.Declined()
}

func TestHeloHook(t *testing.T) {
	h := newHarness(t, DefaultConfig(), heloDenier{})
	h.expect("HELO localhost", "550 5.7.0 You are not localhost")
	if h.s.HeloName() != "" {
		t.Error("denied HELO was recorded")
	}
	h.expectCode("HELO client", wren.CodeOK)
}

func TestHeloStartsNewTransaction(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.expectCode("EHLO client", wren.CodeOK)
	h.expectCode("MAIL FROM:<alice@example.com>", wren.CodeOK)
	h.expectCode("EHLO client", wren.CodeOK)
	if _, ok := h.s.Sender(); ok {
		t.Error("EHLO did not reset the transaction")
	}
}

func TestStartTLS(t *testing.T) {
	mt := &mockTransport{startTLS: true}
	h := newHarnessWith(t, DefaultConfig(), mt, DefaultHandlers())

	h.expectCode("EHLO client", wren.CodeOK)
	h.expectCode("MAIL FROM:<alice@example.com>", wren.CodeOK)
	h.expect("STARTTLS now", "501 5.5.4 Syntax error (no parameters allowed) with STARTTLS command")
	h.expect("STARTTLS", "220 2.0.0 Ready to start TLS")

	if !h.s.IsTLS() {
		t.Fatal("transport not upgraded")
	}
	if h.s.HeloName() != "" {
		t.Error("HELO survived STARTTLS")
	}
	if _, ok := h.s.Sender(); ok {
		t.Error("transaction survived STARTTLS")
	}

	h.expect("STARTTLS", "503 5.5.1 TLS already active RFC2487 5.2")
	if !h.s.IsTLS() {
		t.Error("second STARTTLS changed TLS state")
	}
}

func TestStartTLSUnsupported(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.expect("STARTTLS", "502 5.5.0 STARTTLS is not supported")
}

func TestStartTLSHandshakeFailure(t *testing.T) {
	mt := &mockTransport{startTLS: true, startErr: errors.Join(wren.ErrTLSHandshake, errors.New("bad record"))}
	h := newHarnessWith(t, DefaultConfig(), mt, DefaultHandlers())

	if resp := h.send("STARTTLS"); resp.Code != 0 {
		t.Errorf("unexpected reply %q after failed handshake", resp.String())
	}
	if h.s.IsTLS() {
		t.Error("TLS active after failed handshake")
	}
}

type quitRecorder struct{ called bool }

func (q *quitRecorder) DoQuit(s *Session) wren.HookResult {
	q.called = true
	return wren.HookResult{Action: wren.HookOK, Code: wren.CodeServiceClosing, Message: "See you"}
}

func TestQuit(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.expect("QUIT now", "501 5.5.4 Unexpected argument provided with QUIT command")
	resp := h.expect("QUIT", "221 2.0.0 localhost Service closing transmission channel")
	if !resp.EndSession {
		t.Error("QUIT did not end the session")
	}

	hook := &quitRecorder{}
	h = newHarness(t, DefaultConfig(), hook)
	resp = h.expect("QUIT", "221 See you")
	if !hook.called || !resp.EndSession {
		t.Errorf("hook called = %v, EndSession = %v", hook.called, resp.EndSession)
	}
}

func TestSimpleCommands(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.expect("NOOP", "250 2.0.0 OK")
	h.expect("RSET", "250 2.0.0 OK")
	h.expect("VRFY bob", "502 5.5.0 VRFY is not supported")
	h.expect("EXPN staff", "502 5.5.0 EXPN is not supported")
	h.expect("XYZZY", "500 5.5.0 Command XYZZY unrecognized.")
}

type unknownHook struct{}

func (unknownHook) DoUnknown(s *Session, cmd wren.Command) wren.HookResult {
	if cmd.Verb == "XCLIENT" {
		return wren.Deny(wren.CodeBadSequence, wren.ESCSecurityError, "XCLIENT not permitted")
	}
	return wren.Declined()
}

func TestUnknownHook(t *testing.T) {
	h := newHarness(t, DefaultConfig(), unknownHook{})
	h.expect("XCLIENT ADDR=1.2.3.4", "503 5.7.0 XCLIENT not permitted")
	h.expect("FOO", "500 5.5.0 Command FOO unrecognized.")
}

func TestHelpIsStreamed(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if resp := h.send("HELP"); resp.Code != 0 {
		t.Errorf("HELP wrote a reply instead of streaming: %q", resp.String())
	}
	out := h.mt.stream.String()
	if !strings.HasPrefix(out, "214-Wren localhost\r\n") {
		t.Errorf("help output = %q", out)
	}
	if !strings.HasSuffix(out, "214 End of HELP info\r\n") {
		t.Errorf("help output = %q", out)
	}
	for _, verb := range []string{"DATA", "EHLO", "MAIL", "RCPT", "STARTTLS"} {
		if !strings.Contains(out, verb) {
			t.Errorf("help lacks %s", verb)
		}
	}
	if strings.Contains(out, wren.UnknownCommand) {
		t.Error("help lists the unknown command fallback")
	}
}

type connectDenier struct{}

func (connectDenier) DoConnect(s *Session) wren.HookResult {
	return wren.DenySoft(wren.CodeServiceUnavailable, wren.ESCTempFailure, "Too busy")
}

func TestWelcome(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if !h.d.Connect(h.s) {
		t.Fatal("Connect() = false")
	}
	if got := h.mt.replies[0].String(); got != "220 localhost Wren ESMTP Service ready" {
		t.Errorf("greeting = %q", got)
	}

	cfg := DefaultConfig()
	cfg.Greeting = "Hi there"
	h = newHarness(t, cfg)
	h.d.Connect(h.s)
	if got := h.mt.replies[0].String(); got != "220 localhost Hi there" {
		t.Errorf("greeting = %q", got)
	}

	h = newHarness(t, DefaultConfig(), connectDenier{})
	if h.d.Connect(h.s) {
		t.Error("rejected connection kept open")
	}
	if got := h.mt.replies[0].String(); got != "421 4.0.0 Too busy" {
		t.Errorf("reply = %q", got)
	}
}

func TestRelayingAllowed(t *testing.T) {
	loopback := &mockTransport{remote: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}}
	h := newHarnessWith(t, DefaultConfig(), loopback, DefaultHandlers())
	if !h.s.IsRelayingAllowed() {
		t.Error("loopback client should be allowed to relay")
	}

	h = newHarness(t, DefaultConfig())
	if h.s.IsRelayingAllowed() {
		t.Error("remote client should not be allowed to relay")
	}
	h.s.SetRelayingAllowed(true)
	if !h.s.IsRelayingAllowed() {
		t.Error("SetRelayingAllowed had no effect")
	}
}

func TestParseNetworks(t *testing.T) {
	nets, err := ParseNetworks("10.0.0.0/8", "192.0.2.7", "2001:db8::/32")
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{RelayNetworks: nets}
	for ip, want := range map[string]bool{
		"10.1.2.3":    true,
		"192.0.2.7":   true,
		"192.0.2.8":   false,
		"2001:db8::1": true,
		"127.0.0.1":   false,
	} {
		if got := cfg.isRelayNetwork(net.ParseIP(ip)); got != want {
			t.Errorf("isRelayNetwork(%s) = %v, want %v", ip, got, want)
		}
	}
	if _, err := ParseNetworks("not-a-network"); err == nil {
		t.Error("expected error")
	}
}

func TestWiringErrors(t *testing.T) {
	var handlers []any
	for _, h := range DefaultHandlers() {
		if _, ok := h.(*DataLineMessageHookHandler); !ok {
			handlers = append(handlers, h)
		}
	}
	_, err := NewChain(handlers)
	var we *wren.WiringError
	if !errors.As(err, &we) || we.Handler != "DataCmdHandler" {
		t.Errorf("expected DataCmdHandler wiring error, got %v", err)
	}

	_, err = NewChain([]any{&HeloCmdHandler{}})
	if !errors.As(err, &we) || we.Capability != "command MAIL" {
		t.Errorf("expected missing MAIL, got %v", err)
	}
}
