package wren

import (
	"bufio"
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// testClient is a simple line client for integration testing.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

func newTestClient(t *testing.T, addr string) *testClient {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	return &testClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

func (c *testClient) close() {
	c.conn.Close()
}

func (c *testClient) send(cmd string) {
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		c.t.Fatalf("Failed to send command %q: %v", cmd, err)
	}
}

func (c *testClient) sendRaw(data []byte) {
	if _, err := c.conn.Write(data); err != nil {
		c.t.Fatalf("Failed to send raw data: %v", err)
	}
}

func (c *testClient) readLine() string {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("Failed to read response: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) expectCode(expectedCode int) string {
	c.t.Helper()
	line := c.readLine()
	code := 0
	fmt.Sscanf(line, "%d", &code)
	if code != expectedCode {
		c.t.Errorf("Expected code %d, got response: %s", expectedCode, line)
	}
	return line
}

// expectClosed asserts the server closed the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadString('\n')
	if err == nil {
		c.t.Errorf("expected connection to be closed, got %q", line)
		return
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !strings.Contains(err.Error(), "reset") {
		c.t.Errorf("expected EOF, got %v", err)
	}
}

// upgrade runs a client TLS handshake on the connection.
func (c *testClient) upgrade(pool *x509.CertPool) {
	c.t.Helper()
	tlsConn := tls.Client(c.conn, &tls.Config{RootCAs: pool, ServerName: "localhost"})
	if err := tlsConn.Handshake(); err != nil {
		c.t.Fatalf("TLS handshake failed: %v", err)
	}
	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
}

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// commandFunc is a CommandHandler built from a function.
type commandFunc struct {
	verbs []string
	fn    func(s *Session, cmd Command) (*Response, error)
}

func (c commandFunc) Commands() []string { return c.verbs }

func (c commandFunc) OnCommand(s *Session, cmd Command) (*Response, error) {
	return c.fn(s, cmd)
}

func command(verb string, fn func(s *Session, cmd Command) (*Response, error)) commandFunc {
	return commandFunc{verbs: []string{verb}, fn: fn}
}

type greeter struct{}

func (greeter) OnConnect(s *Session) (*Response, error) {
	resp := ResponseServiceReady("test.example.com", "ready")
	return &resp, nil
}

// echoHandler replies to every line until "." pops it.
type echoHandler struct{}

func (echoHandler) OnLine(s *Session, line []byte) (*Response, error) {
	if string(line) == "." {
		s.Transport().PopLineHandler()
		return Reply(CodeOK, ESCSuccess, "echo done"), nil
	}
	return Replyf(CodeOK, "", "echo %s", line), nil
}

// testHandlers is a small line protocol exercising the core.
func testHandlers() []any {
	return []any{
		greeter{},
		command("PING", func(s *Session, cmd Command) (*Response, error) {
			return Replyf(CodeOK, ESCSuccess, "pong %s", cmd.Args), nil
		}),
		command("ECHO", func(s *Session, cmd Command) (*Response, error) {
			PushLineHandler[*Session](s, echoHandler{})
			return Reply(CodeStartMailInput, "", "echo mode, end with ."), nil
		}),
		command("TLS", func(s *Session, cmd Command) (*Response, error) {
			return Replyf(CodeOK, "", "tls=%t", s.IsTLS()), nil
		}),
		command("TLSINFO", func(s *Session, cmd Command) (*Response, error) {
			info := s.TLSInfo()
			if info == nil {
				return Reply(CodeOK, "", "none"), nil
			}
			return Replyf(CodeOK, "", "%s sni=%s", info, info.ServerName), nil
		}),
		command("STARTTLS", func(s *Session, cmd Command) (*Response, error) {
			err := s.Transport().StartTLS(Response{Code: CodeServiceReady, EnhancedCode: ESCSuccess, Message: "Ready to start TLS"})
			switch {
			case err == nil:
				return nil, nil
			case errors.Is(err, ErrTLSActive):
				resp := ResponseBadSequence("TLS already active")
				return &resp, nil
			default:
				return nil, err
			}
		}),
		command("BOOM", func(s *Session, cmd Command) (*Response, error) {
			return nil, errors.New("storage unavailable")
		}),
		command("PANIC", func(s *Session, cmd Command) (*Response, error) {
			panic("handler bug")
		}),
		command("QUIT", func(s *Session, cmd Command) (*Response, error) {
			resp := ResponseServiceClosing("test.example.com", "bye")
			return &resp, nil
		}),
	}
}

func startTestServer(t *testing.T, config Config, handlers []any) (*Server[*Session], string) {
	t.Helper()

	chain, err := NewHandlerChain[*Session](handlers)
	if err != nil {
		t.Fatalf("NewHandlerChain() error = %v", err)
	}

	config.Logger = discardLogger()
	config.Protocol = "test"
	server, err := NewServer(config, chain, func(b *Session) *Session { return b })
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(func() { server.Close() })

	return server, listener.Addr().String()
}

// generateTestCert creates a self-signed certificate for testing.
func generateTestCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Test"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal private key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	certPool := x509.NewCertPool()
	certPool.AppendCertsFromPEM(certPEM)

	return cert, certPool
}

// fakeTransport records replies instead of writing them to a socket.
type fakeTransport struct {
	LineStack

	mu       sync.Mutex
	replies  []Response
	stream   bytes.Buffer
	closed   bool
	tls      bool
	startTLS bool
	writeErr error
}

func (f *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 40000}
}

func (f *fakeTransport) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("192.0.2.1"), Port: 25}
}

func (f *fakeTransport) WriteResponse(resp Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.replies = append(f.replies, resp)
	return nil
}

func (f *fakeTransport) WriteStream(r io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := io.Copy(&f.stream, r)
	return err
}

func (f *fakeTransport) StartTLS(announce Response) error {
	if f.tls {
		return ErrTLSActive
	}
	if !f.startTLS {
		return ErrTLSUnavailable
	}
	f.replies = append(f.replies, announce)
	f.tls = true
	return nil
}

func (f *fakeTransport) IsTLS() bool               { return f.tls }
func (f *fakeTransport) IsStartTLSSupported() bool { return f.startTLS }

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func (f *fakeTransport) last() Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return Response{}
	}
	return f.replies[len(f.replies)-1]
}
