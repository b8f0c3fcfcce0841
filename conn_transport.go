package wren

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	wrenio "github.com/synqronlabs/wren/io"
)

// tlsState tracks STARTTLS progress on a connection.
type tlsState int32

const (
	tlsNone tlsState = iota
	tlsUpgrading
	tlsActive
)

// TLSInfo contains information about the TLS connection.
type TLSInfo struct {
	Version            uint16
	CipherSuite        uint16
	ServerName         string
	NegotiatedProtocol string
	PeerCertificates   [][]byte
}

func newTLSInfo(state tls.ConnectionState) *TLSInfo {
	info := &TLSInfo{
		Version:            state.Version,
		CipherSuite:        state.CipherSuite,
		ServerName:         state.ServerName,
		NegotiatedProtocol: state.NegotiatedProtocol,
	}
	for _, cert := range state.PeerCertificates {
		info.PeerCertificates = append(info.PeerCertificates, cert.Raw)
	}
	return info
}

// String returns the protocol version and cipher suite, as in
// "TLS 1.3 with cipher TLS_AES_128_GCM_SHA256".
func (i *TLSInfo) String() string {
	return fmt.Sprintf("%s with cipher %s", tls.VersionName(i.Version), tls.CipherSuiteName(i.CipherSuite))
}

// connTransport is the Transport of an accepted net.Conn.
type connTransport struct {
	LineStack

	raw           net.Conn
	conn          net.Conn
	reader        *bufio.Reader
	writer        *bufio.Writer
	tlsConfig     *tls.Config
	maxLineLength int
	writeTimeout  time.Duration

	// wmu serializes writes and guards conn/writer swaps during STARTTLS.
	wmu    sync.Mutex
	tls    atomic.Int32
	closed atomic.Bool

	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

func newConnTransport(conn net.Conn, config *Config) *connTransport {
	t := &connTransport{
		raw:           conn,
		conn:          conn,
		reader:        bufio.NewReaderSize(conn, config.ReadBufferSize),
		writer:        bufio.NewWriter(conn),
		tlsConfig:     config.TLSConfig,
		maxLineLength: config.MaxLineLength,
		writeTimeout:  config.WriteTimeout,
	}
	if _, ok := conn.(*tls.Conn); ok {
		// Implicit TLS: the handshake runs lazily on first read.
		t.tls.Store(int32(tlsActive))
	}
	return t
}

func (t *connTransport) RemoteAddr() net.Addr { return t.raw.RemoteAddr() }
func (t *connTransport) LocalAddr() net.Addr  { return t.raw.LocalAddr() }

// readLine reads the next CRLF terminated line. Only the goroutine driving
// the session calls it.
func (t *connTransport) readLine() ([]byte, error) {
	line, err := wrenio.ReadLine(t.reader, t.maxLineLength, false)
	if err == nil {
		t.bytesRead.Add(int64(len(line) + 2))
	}
	return line, err
}

func (t *connTransport) WriteResponse(resp Response) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.writeLocked(resp.Bytes())
}

func (t *connTransport) WriteStream(r io.Reader) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.closed.Load() {
		return net.ErrClosed
	}
	t.setWriteDeadline()
	n, err := io.Copy(t.writer, r)
	t.bytesWritten.Add(n)
	if err != nil {
		return err
	}
	return t.writer.Flush()
}

func (t *connTransport) writeLocked(b []byte) error {
	if t.closed.Load() {
		return net.ErrClosed
	}
	t.setWriteDeadline()
	n, err := t.writer.Write(b)
	t.bytesWritten.Add(int64(n))
	if err != nil {
		return err
	}
	return t.writer.Flush()
}

func (t *connTransport) setWriteDeadline() {
	if t.writeTimeout > 0 {
		_ = t.raw.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
}

func (t *connTransport) IsTLS() bool {
	return tlsState(t.tls.Load()) == tlsActive
}

func (t *connTransport) IsStartTLSSupported() bool {
	return t.tlsConfig != nil
}

// TLSInfo returns the negotiated TLS parameters, or nil before a
// handshake has completed.
func (t *connTransport) TLSInfo() *TLSInfo {
	t.wmu.Lock()
	tlsConn, ok := t.conn.(*tls.Conn)
	t.wmu.Unlock()
	if !ok {
		return nil
	}
	state := tlsConn.ConnectionState()
	if !state.HandshakeComplete {
		return nil
	}
	return newTLSInfo(state)
}

// StartTLS flushes announce over the plain connection and only then runs
// the server handshake. A second attempt, concurrent or after success,
// fails without touching the established state.
func (t *connTransport) StartTLS(announce Response) error {
	if t.tlsConfig == nil {
		return ErrTLSUnavailable
	}
	if !t.tls.CompareAndSwap(int32(tlsNone), int32(tlsUpgrading)) {
		if tlsState(t.tls.Load()) == tlsActive {
			return ErrTLSActive
		}
		return ErrTLSInProgress
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	if err := t.writeLocked(announce.Bytes()); err != nil {
		t.tls.Store(int32(tlsNone))
		return err
	}

	// Anything the client pipelined after STARTTLS arrived in the clear
	// and must not be interpreted once encryption is up.
	if n := t.reader.Buffered(); n > 0 {
		_, _ = t.reader.Discard(n)
	}

	tlsConn := tls.Server(t.conn, t.tlsConfig)
	ctx := context.Background()
	if t.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.writeTimeout)
		defer cancel()
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		// The plain stream is unusable after a partial handshake.
		t.tls.Store(int32(tlsNone))
		_ = t.Close()
		return fmt.Errorf("%w: %w", ErrTLSHandshake, err)
	}

	t.conn = tlsConn
	t.reader = bufio.NewReaderSize(tlsConn, t.reader.Size())
	t.writer = bufio.NewWriter(tlsConn)
	t.tls.Store(int32(tlsActive))
	return nil
}

// closeWithResponse writes resp, when the connection is still open, and
// closes it. It may be called from any goroutine.
func (t *connTransport) closeWithResponse(resp Response) {
	t.wmu.Lock()
	if !t.closed.Load() {
		_ = t.writeLocked(resp.Bytes())
	}
	t.wmu.Unlock()
	_ = t.Close()
}

func (t *connTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Closing the raw connection also tears down a TLS layer on top of it.
	return t.raw.Close()
}
