package wren

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/synqronlabs/wren/utils"
)

// Server accepts connections and drives one session per connection through
// a handler chain. S is the protocol session type.
type Server[S ProtocolSession] struct {
	config     Config
	dispatcher *Dispatcher[S]
	factory    SessionFactory[S]
	listener   net.Listener
	listenerMu sync.Mutex

	conns *ConnectionCounter
	perIP *PerIPCounter
	sem   *semaphore.Weighted

	// connections tracks active connections
	connMu      sync.Mutex
	connections map[*connTransport]string

	// shutdown coordination
	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
	closed     atomic.Bool
}

// NewServer creates a server for chain. factory builds the protocol session
// of each accepted connection.
func NewServer[S ProtocolSession](config Config, chain *HandlerChain[S], factory SessionFactory[S]) (*Server[S], error) {
	if chain == nil {
		return nil, errors.New("wren: handler chain is required")
	}
	if factory == nil {
		return nil, errors.New("wren: session factory is required")
	}
	config.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server[S]{
		config:      config,
		dispatcher:  NewDispatcher(chain, config.Protocol),
		factory:     factory,
		conns:       NewConnectionCounter(config.MaxConnections),
		perIP:       NewPerIPCounter(config.MaxConnectionsPerIP),
		connections: make(map[*connTransport]string),
		ctx:         ctx,
		cancel:      cancel,
	}
	if config.MaxConcurrentHandlers > 0 {
		s.sem = semaphore.NewWeighted(int64(config.MaxConcurrentHandlers))
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Server[S]) Config() Config {
	return s.config
}

// Addr returns the listener address once serving, else nil.
func (s *Server[S]) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of open connections.
func (s *Server[S]) ConnectionCount() int {
	return s.conns.Count()
}

// ListenAndServe listens on the configured address.
func (s *Server[S]) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("%s: failed to listen: %w", s.config.Protocol, err)
	}
	return s.Serve(listener)
}

// ListenAndServeTLS listens with implicit TLS.
func (s *Server[S]) ListenAndServeTLS() error {
	if s.config.TLSConfig == nil {
		return errors.New("wren: TLS config is required for TLS server")
	}
	listener, err := tls.Listen("tcp", s.config.Addr, s.config.TLSConfig)
	if err != nil {
		return fmt.Errorf("%s: failed to listen TLS: %w", s.config.Protocol, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until the server is closed.
func (s *Server[S]) Serve(listener net.Listener) error {
	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	if s.closed.Load() {
		_ = listener.Close()
		return ErrServerClosed
	}

	s.config.Logger.Info("server started",
		slog.String("protocol", s.config.Protocol),
		slog.String("addr", listener.Addr().String()),
	)

	var tempDelay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay = min(2*tempDelay, time.Second)
				}
				time.Sleep(tempDelay)
				continue
			}
			s.config.Logger.Error("accept error", slog.Any("error", err))
			return err
		}
		tempDelay = 0

		s.shutdownWg.Add(1)
		go s.handleConnection(conn)
	}
}

// Shutdown stops accepting, sends 421 to connected clients and waits for
// their goroutines until ctx expires.
func (s *Server[S]) Shutdown(ctx context.Context) error {
	if s.stop() {
		s.connMu.Lock()
		for t, id := range s.connections {
			// RFC 5321 asks for a 421 before the server closes the channel.
			go t.closeWithResponse(ResponseServiceUnavailable(
				fmt.Sprintf("%s Service shutting down [%s]", s.config.Hostname, id)))
		}
		s.connMu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.closeConnections()
		return ctx.Err()
	}
}

// Close stops the server and closes every connection before returning,
// without a 421. Session goroutines finish in the background.
func (s *Server[S]) Close() error {
	s.stop()
	s.closeConnections()
	return nil
}

// stop closes the listener and cancels sessions. It reports whether this
// call stopped the server.
func (s *Server[S]) stop() bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	s.cancel()

	s.listenerMu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.listenerMu.Unlock()
	return true
}

func (s *Server[S]) closeConnections() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for t := range s.connections {
		_ = t.Close()
	}
}

func (s *Server[S]) track(t *connTransport, id string) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.connections[t] = id
	return true
}

func (s *Server[S]) untrack(t *connTransport) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, t)
}

// handleConnection drives one connection until it closes.
func (s *Server[S]) handleConnection(netConn net.Conn) {
	defer s.shutdownWg.Done()
	protocol := s.config.Protocol

	if !s.conns.Acquire() {
		metricConnection.WithLabelValues(protocol, "limit").Inc()
		s.config.Logger.Warn("connection limit reached",
			slog.String("remote", netConn.RemoteAddr().String()),
		)
		s.refuse(netConn, "Too many connections, try again later")
		return
	}
	defer s.conns.Release()

	ip := utils.IPKey(netConn.RemoteAddr())
	if !s.perIP.Acquire(ip) {
		metricConnection.WithLabelValues(protocol, "iplimit").Inc()
		s.config.Logger.Warn("per-IP connection limit reached", slog.String("remote", ip))
		s.refuse(netConn, "Too many connections from your address, try again later")
		return
	}
	defer s.perIP.Release(ip)

	metricConnection.WithLabelValues(protocol, "accepted").Inc()
	metricActive.WithLabelValues(protocol).Inc()
	defer metricActive.WithLabelValues(protocol).Dec()

	t := newConnTransport(netConn, &s.config)
	id := utils.GenerateID()
	if !s.track(t, id) {
		_ = t.Close()
		return
	}
	defer s.untrack(t)

	logger := s.config.Logger.With(
		slog.String("conn_id", id),
		slog.String("remote", netConn.RemoteAddr().String()),
		slog.String("protocol", protocol),
	)
	base := NewSession(s.ctx, id, t, logger)
	sess := s.factory(base)

	idle := NewIdleTimer(s.config.IdleTimeout, func() {
		metricErrors.WithLabelValues(protocol, "idle").Inc()
		logger.Info("idle timeout")
		t.closeWithResponse(ResponseServiceUnavailable(
			fmt.Sprintf("%s Idle timeout, closing connection", s.config.Hostname)))
	})

	start := time.Now()
	logger.Debug("connection accepted")
	defer func() {
		idle.Stop()
		_ = t.Close()
		s.dispatcher.Disconnect(sess)
		base.Close()
		logger.Debug("connection closed",
			slog.Duration("duration", time.Since(start)),
			slog.Int64("bytes_read", t.bytesRead.Load()),
			slog.Int64("bytes_written", t.bytesWritten.Load()),
		)
	}()

	if !s.run(sess, func() bool { return s.dispatcher.Connect(sess) }) {
		return
	}

	for {
		line, err := t.readLine()
		if err != nil {
			if !s.dispatcher.HandleReadError(sess, err) {
				return
			}
			idle.Touch()
			continue
		}
		idle.Touch()

		if !s.run(sess, func() bool { return s.dispatcher.Handle(sess, line) }) {
			return
		}
	}
}

// run executes fn, holding a handler slot when offload is bounded.
func (s *Server[S]) run(sess S, fn func() bool) bool {
	if s.sem == nil {
		return fn()
	}
	if err := s.sem.Acquire(sess.Base().Context(), 1); err != nil {
		return false
	}
	defer s.sem.Release(1)
	return fn()
}

// refuse answers a connection that is over a limit and closes it.
func (s *Server[S]) refuse(conn net.Conn, message string) {
	resp := ResponseServiceUnavailable(fmt.Sprintf("%s %s", s.config.Hostname, message))
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = conn.Write(resp.Bytes())
	_ = conn.Close()
}
