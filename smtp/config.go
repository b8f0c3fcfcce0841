package smtp

import (
	"net"

	"github.com/synqronlabs/wren/dns"
)

// Config contains the protocol settings shared by all handlers of one
// SMTP or LMTP chain.
//
// For a more developer-friendly API, consider using the builder pattern:
//
//	server, err := smtp.New("mail.example.com").
//	    Addr(":25").
//	    TLS(tlsConfig).
//	    Use(spoolStore).
//	    Build()
type Config struct {
	// HelloName is the server's hostname used in greetings, EHLO and
	// Received headers.
	// Default: "localhost"
	HelloName string

	// Greeting is the text after the hostname in the 220 banner.
	// Default depends on the protocol: "<software> ESMTP Service ready" or
	// "<software> LMTP Service ready".
	Greeting string

	// SoftwareName names the server software in banners and Received headers.
	// Default: "Wren"
	SoftwareName string

	// MaxMessageSize is the maximum accepted message size in bytes.
	// Setting it enables the SIZE extension (RFC 1870). 0 means unbounded.
	MaxMessageSize int64

	// DefaultDomain is appended to addresses lacking a domain part.
	// Default: "localhost"
	DefaultDomain string

	// EnforceAddressBrackets rejects MAIL and RCPT addresses without <>.
	// Default: true
	EnforceAddressBrackets bool

	// EnforceHeloEhlo requires HELO or EHLO before MAIL.
	// Default: true
	EnforceHeloEhlo bool

	// RelayNetworks lists client networks allowed to relay. Sessions from
	// these networks are marked relaying-allowed when created.
	// Default: loopback only.
	RelayNetworks []*net.IPNet

	// Resolver, when set, resolves the client address for Received headers.
	Resolver dns.Resolver
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HelloName:              "localhost",
		SoftwareName:           "Wren",
		DefaultDomain:          "localhost",
		EnforceAddressBrackets: true,
		EnforceHeloEhlo:        true,
		RelayNetworks:          LoopbackNetworks(),
	}
}

// LoopbackNetworks returns 127.0.0.0/8 and ::1/128.
func LoopbackNetworks() []*net.IPNet {
	return []*net.IPNet{
		{IP: net.IPv4(127, 0, 0, 0), Mask: net.CIDRMask(8, 32)},
		{IP: net.IPv6loopback, Mask: net.CIDRMask(128, 128)},
	}
}

// ParseNetworks parses CIDR strings such as "10.0.0.0/8". A bare address
// is treated as a single host.
func ParseNetworks(cidrs ...string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		if ip := net.ParseIP(c); ip != nil {
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.HelloName == "" {
		c.HelloName = d.HelloName
	}
	if c.SoftwareName == "" {
		c.SoftwareName = d.SoftwareName
	}
	if c.DefaultDomain == "" {
		c.DefaultDomain = d.DefaultDomain
	}
}

// isRelayNetwork reports whether ip is inside one of the relay networks.
func (c *Config) isRelayNetwork(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range c.RelayNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
