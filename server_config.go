package wren

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// Config holds the transport level settings of a Server. Protocol specific
// settings live in the protocol packages.
type Config struct {
	// Protocol labels logs and metrics, e.g. "smtp" or "lmtp".
	Protocol string

	// Addr is the listen address, e.g. ":25".
	Addr string

	// Hostname appears in the shutdown reply.
	Hostname string

	// TLSConfig enables STARTTLS and ListenAndServeTLS.
	TLSConfig *tls.Config

	// MaxLineLength bounds a line including CRLF. Default 8192.
	MaxLineLength int

	// ReadBufferSize sizes the per-connection read buffer. Default 4096.
	ReadBufferSize int

	// IdleTimeout closes connections that send nothing for this long.
	// Default 5 minutes; negative disables it.
	IdleTimeout time.Duration

	// WriteTimeout bounds each write and the STARTTLS handshake. Default 5 minutes.
	WriteTimeout time.Duration

	// MaxConnections bounds open connections. Zero means unlimited.
	MaxConnections int

	// MaxConnectionsPerIP bounds open connections per client IP. Zero means unlimited.
	MaxConnectionsPerIP int

	// MaxConcurrentHandlers bounds how many connections execute handler
	// code at the same time. Lines of one connection are always processed
	// in order. Zero means unlimited.
	MaxConcurrentHandlers int

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Protocol:       "smtp",
		Addr:           ":25",
		Hostname:       "localhost",
		MaxLineLength:  8192,
		ReadBufferSize: 4096,
		IdleTimeout:    5 * time.Minute,
		WriteTimeout:   5 * time.Minute,
		Logger:         slog.Default(),
	}
}

// applyDefaults fills zero fields from DefaultConfig.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Protocol == "" {
		c.Protocol = d.Protocol
	}
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.Hostname == "" {
		c.Hostname = d.Hostname
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = d.MaxLineLength
	}
	if c.ReadBufferSize < 16 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
}
