package smtp

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/synqronlabs/wren"
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockTransport records replies instead of writing them to a socket.
type mockTransport struct {
	wren.LineStack

	mu       sync.Mutex
	remote   net.Addr
	replies  []wren.Response
	stream   bytes.Buffer
	tls      bool
	tlsInfo  *wren.TLSInfo
	startTLS bool
	startErr error
}

func (m *mockTransport) RemoteAddr() net.Addr {
	if m.remote != nil {
		return m.remote
	}
	return &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 40000}
}

func (m *mockTransport) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("192.0.2.1"), Port: 25}
}

func (m *mockTransport) WriteResponse(resp wren.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, resp)
	return nil
}

func (m *mockTransport) WriteStream(r io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := io.Copy(&m.stream, r)
	return err
}

func (m *mockTransport) StartTLS(announce wren.Response) error {
	if m.tls {
		return wren.ErrTLSActive
	}
	if m.startErr != nil {
		return m.startErr
	}
	m.WriteResponse(announce)
	m.tls = true
	return nil
}

func (m *mockTransport) IsTLS() bool               { return m.tls }
func (m *mockTransport) TLSInfo() *wren.TLSInfo    { return m.tlsInfo }
func (m *mockTransport) IsStartTLSSupported() bool { return m.startTLS }
func (m *mockTransport) Close() error              { return nil }

// harness drives one SMTP session through the real dispatcher.
type harness struct {
	t  *testing.T
	d  *wren.Dispatcher[*Session]
	s  *Session
	mt *mockTransport
}

func newHarness(t *testing.T, cfg Config, extra ...any) *harness {
	t.Helper()
	return newHarnessWith(t, cfg, &mockTransport{}, append(DefaultHandlers(), extra...))
}

func newHarnessWith(t *testing.T, cfg Config, mt *mockTransport, handlers []any) *harness {
	t.Helper()
	chain, err := NewChain(handlers)
	if err != nil {
		t.Fatalf("NewChain() error = %v", err)
	}
	cfg.applyDefaults()
	base := wren.NewSession(context.Background(), "", mt, discardLogger())
	return &harness{
		t:  t,
		d:  wren.NewDispatcher(chain, "smtp"),
		s:  NewSessionFactory(&cfg)(base),
		mt: mt,
	}
}

// send handles one line and returns the reply it produced, or a zero
// Response when the line was consumed silently.
func (h *harness) send(line string) wren.Response {
	h.t.Helper()
	h.mt.mu.Lock()
	before := len(h.mt.replies)
	h.mt.mu.Unlock()

	h.d.Handle(h.s, []byte(line))

	h.mt.mu.Lock()
	defer h.mt.mu.Unlock()
	if len(h.mt.replies) == before {
		return wren.Response{}
	}
	return h.mt.replies[len(h.mt.replies)-1]
}

// expect sends line and checks the reply's first line.
func (h *harness) expect(line, want string) wren.Response {
	h.t.Helper()
	resp := h.send(line)
	if got := resp.String(); got != want {
		h.t.Errorf("%q: reply = %q, want %q", line, got, want)
	}
	return resp
}

// expectCode sends line and checks the reply code.
func (h *harness) expectCode(line string, code wren.SMTPCode) wren.Response {
	h.t.Helper()
	resp := h.send(line)
	if resp.Code != code {
		h.t.Errorf("%q: reply = %q, want code %d", line, resp.String(), code)
	}
	return resp
}

// rcptRecorder records every recipient it sees and returns result.
type rcptRecorder struct {
	result wren.HookResult
	seen   []Path
	sender []Path
}

func (r *rcptRecorder) DoRcpt(s *Session, sender, rcpt Path) wren.HookResult {
	r.seen = append(r.seen, rcpt)
	r.sender = append(r.sender, sender)
	return r.result
}

// messageRecorder captures delivered messages.
type messageRecorder struct {
	mu     sync.Mutex
	result wren.HookResult
	mails  []*Mail
}

func (r *messageRecorder) OnMessage(s *Session, mail *Mail) wren.HookResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mails = append(r.mails, mail)
	return r.result
}

func (r *messageRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mails)
}
