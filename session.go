package wren

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/synqronlabs/wren/utils"
)

// Scope selects the lifetime of a session attachment.
type Scope int

const (
	// ScopeConnection attachments live until the connection closes.
	ScopeConnection Scope = iota
	// ScopeTransaction attachments are discarded by ResetTransaction.
	ScopeTransaction
)

func (s Scope) String() string {
	if s == ScopeTransaction {
		return "transaction"
	}
	return "connection"
}

// ProtocolSession is implemented by protocol specific sessions embedding
// *Session. Session itself satisfies it.
type ProtocolSession interface {
	Base() *Session
}

// SessionFactory turns the base session of a new connection into the
// protocol session handed to handlers.
type SessionFactory[S ProtocolSession] func(base *Session) S

// Session is the per-connection state shared by all handlers. Attachments
// are stored in two scopes: connection attachments survive transaction
// resets, transaction attachments do not.
//
// A session is driven by exactly one goroutine at a time; the mutex only
// protects readers outside that goroutine such as metrics and shutdown.
type Session struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	transport Transport
	logger    *slog.Logger
	createdAt time.Time

	mu        sync.RWMutex
	connState map[string]any
	txState   map[string]any
	txCount   int
}

// NewSession creates the base session of a connection. An empty id is
// replaced by a generated one.
func NewSession(ctx context.Context, id string, t Transport, logger *slog.Logger) *Session {
	if id == "" {
		id = utils.GenerateID()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		transport: t,
		logger:    logger,
		createdAt: time.Now(),
		connState: make(map[string]any),
		txState:   make(map[string]any),
	}
}

// Base returns s.
func (s *Session) Base() *Session { return s }

// ID returns the connection ID used in logs and trace headers.
func (s *Session) ID() string { return s.id }

// Transport returns the connection the session runs on.
func (s *Session) Transport() Transport { return s.transport }

// Logger returns the connection logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// CreatedAt returns when the connection was accepted.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// RemoteAddr returns the client address.
func (s *Session) RemoteAddr() net.Addr { return s.transport.RemoteAddr() }

// LocalAddr returns the server address the client connected to.
func (s *Session) LocalAddr() net.Addr { return s.transport.LocalAddr() }

// IsTLS reports whether the connection is encrypted.
func (s *Session) IsTLS() bool { return s.transport.IsTLS() }

// Context is canceled when the connection ends.
func (s *Session) Context() context.Context { return s.ctx }

// TLSInfo returns the negotiated TLS parameters, or nil when the
// connection is not encrypted or its transport does not report them.
func (s *Session) TLSInfo() *TLSInfo {
	if p, ok := s.transport.(interface{ TLSInfo() *TLSInfo }); ok {
		return p.TLSInfo()
	}
	return nil
}

// RemoteIP returns the client IP, or nil for non-IP transports.
func (s *Session) RemoteIP() net.IP {
	ip, err := utils.GetIPFromAddr(s.RemoteAddr())
	if err != nil {
		return nil
	}
	return ip
}

// Close cancels the session context. Hooks blocked on it return.
func (s *Session) Close() {
	s.cancel()
}

func (s *Session) scope(scope Scope) map[string]any {
	if scope == ScopeTransaction {
		return s.txState
	}
	return s.connState
}

// Attachment returns the value stored under key in scope. The boolean
// distinguishes a missing key from one set to a zero value.
func (s *Session) Attachment(key string, scope Scope) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scope(scope)[key]
	return v, ok
}

// SetAttachment stores value under key in scope and returns the previous
// value. A nil value removes the key.
func (s *Session) SetAttachment(key string, value any, scope Scope) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.scope(scope)
	prev, existed := m[key]
	if value == nil {
		delete(m, key)
	} else {
		m[key] = value
	}
	return prev, existed
}

// ConnectionAttachment reads key from the connection scope.
func (s *Session) ConnectionAttachment(key string) (any, bool) {
	return s.Attachment(key, ScopeConnection)
}

// SetConnectionAttachment stores value in the connection scope.
func (s *Session) SetConnectionAttachment(key string, value any) (any, bool) {
	return s.SetAttachment(key, value, ScopeConnection)
}

// TransactionAttachment reads key from the transaction scope.
func (s *Session) TransactionAttachment(key string) (any, bool) {
	return s.Attachment(key, ScopeTransaction)
}

// SetTransactionAttachment stores value in the transaction scope.
func (s *Session) SetTransactionAttachment(key string, value any) (any, bool) {
	return s.SetAttachment(key, value, ScopeTransaction)
}

// ResetTransaction discards every transaction attachment. Connection
// attachments and the interpreter stack are untouched.
func (s *Session) ResetTransaction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.txState) > 0 {
		s.txCount++
	}
	clear(s.txState)
}

// Transactions returns how many non-empty transactions were reset so far.
func (s *Session) Transactions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txCount
}

// PushLineHandler binds h to the protocol session sess and pushes it on the
// transport's interpreter stack.
func PushLineHandler[S ProtocolSession](sess S, h LineHandler[S]) {
	sess.Base().Transport().PushLineHandler(BindLineHandler(sess, h))
}

// Key is a typed attachment key bound to one scope. Every key is declared
// once next to the handler owning it, which documents who writes the value
// and what type it has.
type Key[T any] struct {
	name  string
	scope Scope
}

// ConnectionKey declares a connection scoped key.
func ConnectionKey[T any](name string) Key[T] {
	return Key[T]{name: name, scope: ScopeConnection}
}

// TransactionKey declares a transaction scoped key.
func TransactionKey[T any](name string) Key[T] {
	return Key[T]{name: name, scope: ScopeTransaction}
}

// Name returns the attachment key.
func (k Key[T]) Name() string { return k.name }
// Scope returns the scope the value lives in.
func (k Key[T]) Scope() Scope { return k.scope }

// Get returns the value stored for k. A value of another type reads as absent.
func (k Key[T]) Get(s *Session) (T, bool) {
	v, ok := s.Attachment(k.name, k.scope)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Set stores v for k.
func (k Key[T]) Set(s *Session, v T) {
	s.SetAttachment(k.name, v, k.scope)
}

// Delete removes k.
func (k Key[T]) Delete(s *Session) {
	s.SetAttachment(k.name, nil, k.scope)
}

// Has reports whether k is present.
func (k Key[T]) Has(s *Session) bool {
	_, ok := k.Get(s)
	return ok
}
