package fastfail

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/dns"
	"github.com/synqronlabs/wren/smtp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTransport struct {
	wren.LineStack
	remote  net.Addr
	replies []wren.Response
}

func (f *fakeTransport) RemoteAddr() net.Addr { return f.remote }

func (f *fakeTransport) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("192.0.2.1"), Port: 25}
}

func (f *fakeTransport) WriteResponse(resp wren.Response) error {
	f.replies = append(f.replies, resp)
	return nil
}

func (f *fakeTransport) WriteStream(r io.Reader) error         { _, err := io.Copy(io.Discard, r); return err }
func (f *fakeTransport) StartTLS(announce wren.Response) error { return wren.ErrTLSUnavailable }
func (f *fakeTransport) IsTLS() bool                           { return false }
func (f *fakeTransport) IsStartTLSSupported() bool             { return false }
func (f *fakeTransport) Close() error                          { return nil }

// newSession returns a session from ip. Only 10.0.0.0/8 may relay.
func newSession(t *testing.T, ip string) (*smtp.Session, *fakeTransport) {
	t.Helper()
	cfg := smtp.DefaultConfig()
	nets, err := smtp.ParseNetworks("10.0.0.0/8")
	if err != nil {
		t.Fatal(err)
	}
	cfg.RelayNetworks = nets
	ft := &fakeTransport{remote: &net.TCPAddr{IP: net.ParseIP(ip), Port: 10000}}
	base := wren.NewSession(context.Background(), "", ft, discardLogger())
	return smtp.NewSessionFactory(&cfg)(base), ft
}

// countingResolver counts address lookups.
type countingResolver struct {
	dns.MockResolver
	ipLookups atomic.Int32
}

func (r *countingResolver) LookupIP(ctx context.Context, domain string) (dns.Result[net.IP], error) {
	r.ipLookups.Add(1)
	return r.MockResolver.LookupIP(ctx, domain)
}
