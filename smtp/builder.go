package smtp

import (
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/dns"
)

// Builder provides a fluent API for configuring an SMTP or LMTP server.
type Builder struct {
	config   Config
	server   wren.Config
	defaults func() []any
	handlers []any
}

// New creates a Builder for an SMTP server.
func New(hostname string) *Builder {
	return NewBuilder("smtp", hostname, DefaultHandlers)
}

// NewBuilder creates a Builder for protocol whose chain starts with the
// handlers returned by defaults.
func NewBuilder(protocol, hostname string, defaults func() []any) *Builder {
	config := DefaultConfig()
	config.HelloName = hostname

	server := wren.DefaultConfig()
	server.Protocol = protocol
	server.Hostname = hostname

	return &Builder{
		config:   config,
		server:   server,
		defaults: defaults,
	}
}

// Addr sets the address to listen on (e.g., ":25", "0.0.0.0:24").
func (b *Builder) Addr(addr string) *Builder {
	b.server.Addr = addr
	return b
}

// Logger sets the structured logger for the server.
func (b *Builder) Logger(logger *slog.Logger) *Builder {
	b.server.Logger = logger
	return b
}

// TLS configures TLS for the server.
// This enables the STARTTLS extension where the chain has a handler for it.
func (b *Builder) TLS(config *tls.Config) *Builder {
	b.server.TLSConfig = config
	return b
}

// Greeting sets the banner text after the hostname.
func (b *Builder) Greeting(text string) *Builder {
	b.config.Greeting = text
	return b
}

// SoftwareName sets the software name of banners and Received headers.
func (b *Builder) SoftwareName(name string) *Builder {
	b.config.SoftwareName = name
	return b
}

// MaxMessageSize sets the maximum allowed message size in bytes.
// This enables the SIZE extension and advertises the limit.
func (b *Builder) MaxMessageSize(size int64) *Builder {
	b.config.MaxMessageSize = size
	return b
}

// DefaultDomain sets the domain appended to addresses without one.
func (b *Builder) DefaultDomain(domain string) *Builder {
	b.config.DefaultDomain = domain
	return b
}

// EnforceHeloEhlo sets whether MAIL requires a prior HELO or EHLO.
func (b *Builder) EnforceHeloEhlo(enforce bool) *Builder {
	b.config.EnforceHeloEhlo = enforce
	return b
}

// EnforceAddressBrackets sets whether addresses must be enclosed in <>.
func (b *Builder) EnforceAddressBrackets(enforce bool) *Builder {
	b.config.EnforceAddressBrackets = enforce
	return b
}

// RelayNetworks sets the client networks allowed to relay.
func (b *Builder) RelayNetworks(nets ...*net.IPNet) *Builder {
	b.config.RelayNetworks = nets
	return b
}

// Resolver sets the resolver used for Received headers.
func (b *Builder) Resolver(r dns.Resolver) *Builder {
	b.config.Resolver = r
	return b
}

// IdleTimeout sets the maximum idle time before disconnect.
func (b *Builder) IdleTimeout(d time.Duration) *Builder {
	b.server.IdleTimeout = d
	return b
}

// WriteTimeout sets the timeout for writing responses.
func (b *Builder) WriteTimeout(d time.Duration) *Builder {
	b.server.WriteTimeout = d
	return b
}

// MaxLineLength sets the maximum line length including CRLF.
func (b *Builder) MaxLineLength(n int) *Builder {
	b.server.MaxLineLength = n
	return b
}

// MaxConnections sets the maximum concurrent connections.
func (b *Builder) MaxConnections(n int) *Builder {
	b.server.MaxConnections = n
	return b
}

// MaxConnectionsPerIP sets the maximum concurrent connections per client address.
func (b *Builder) MaxConnectionsPerIP(n int) *Builder {
	b.server.MaxConnectionsPerIP = n
	return b
}

// MaxConcurrentHandlers bounds how many connections run handler code at once.
func (b *Builder) MaxConcurrentHandlers(n int) *Builder {
	b.server.MaxConcurrentHandlers = n
	return b
}

// Use appends hooks or handlers to the chain. A handler registering a verb
// that is already handled replaces the default one.
func (b *Builder) Use(handlers ...any) *Builder {
	b.handlers = append(b.handlers, handlers...)
	return b
}

// Config returns the protocol configuration the server will use.
func (b *Builder) Config() *Config {
	b.config.applyDefaults()
	return &b.config
}

// Chain wires the default handlers followed by the ones given to Use.
func (b *Builder) Chain() (*wren.HandlerChain[*Session], error) {
	handlers := append(b.defaults(), b.handlers...)
	return NewChain(handlers)
}

// Build wires the chain and creates the server. A chain that cannot be
// wired is reported as *wren.WiringError.
func (b *Builder) Build() (*wren.Server[*Session], error) {
	chain, err := b.Chain()
	if err != nil {
		return nil, err
	}
	return wren.NewServer(b.server, chain, NewSessionFactory(b.Config()))
}

// ListenAndServe builds the server and starts it.
func (b *Builder) ListenAndServe() error {
	server, err := b.Build()
	if err != nil {
		return err
	}
	return server.ListenAndServe()
}
