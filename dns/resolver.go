package dns

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// ResolverConfig contains configuration for the DNS resolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g., "8.8.8.8:53").
	// If empty, system resolvers from /etc/resolv.conf are used,
	// falling back to public DNS (8.8.8.8, 1.1.1.1).
	Nameservers []string

	// DNSSEC sets the DO bit on queries. The Authentic field of a Result
	// reports whether the upstream resolver validated the answer.
	DNSSEC bool

	// Timeout is the timeout for individual DNS queries. Default is 5 seconds.
	Timeout time.Duration

	// Retries is the number of retries for failed queries. Default is 2.
	Retries int

	Logger *slog.Logger
}

// DNSResolver implements Resolver on top of github.com/miekg/dns.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

// NewResolver creates a new DNS resolver.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = getSystemNameservers()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &DNSResolver{
		config: config,
		client: &mdns.Client{
			Timeout: config.Timeout,
		},
	}
}

// getSystemNameservers tries to get system DNS servers from resolv.conf.
func getSystemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		servers = append(servers, net.JoinHostPort(s, config.Port))
	}
	return servers
}

// query performs a DNS query with retries. It returns the response and
// whether the answer carried the AD bit.
func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, bool, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.RecursionDesired = true
	if r.config.DNSSEC {
		m.SetEdns0(4096, true)
	}

	var lastErr error
	for attempt := 0; attempt <= r.config.Retries; attempt++ {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					lastErr = ErrDNSTimeout
				} else {
					lastErr = fmt.Errorf("dns query failed: %w", err)
				}
				r.config.Logger.Debug("dns exchange failed",
					slog.String("name", name),
					slog.String("type", mdns.TypeToString[qtype]),
					slog.String("server", server),
					slog.Int("attempt", attempt),
					slog.Any("error", err),
				)
				continue
			}

			authentic := r.config.DNSSEC && resp.AuthenticatedData
			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, authentic, nil
			case mdns.RcodeNameError:
				return nil, authentic, ErrDNSNotFound
			case mdns.RcodeServerFailure:
				if r.config.DNSSEC {
					lastErr = ErrDNSBogus
				} else {
					lastErr = ErrDNSServFail
				}
			case mdns.RcodeRefused:
				lastErr = ErrDNSRefused
			default:
				lastErr = fmt.Errorf("dns: unexpected rcode %s", mdns.RcodeToString[resp.Rcode])
			}
		}
	}

	if lastErr != nil {
		return nil, false, lastErr
	}
	return nil, false, ErrDNSServFail
}

// lookup runs one query and converts the matching answer records.
func lookup[T any](ctx context.Context, r *DNSResolver, name string, qtype uint16, convert func(mdns.RR) (T, bool)) (Result[T], error) {
	resp, authentic, err := r.query(ctx, name, qtype)
	if err != nil {
		return Result[T]{Authentic: authentic}, err
	}

	var records []T
	for _, rr := range resp.Answer {
		if v, ok := convert(rr); ok {
			records = append(records, v)
		}
	}
	if len(records) == 0 {
		return Result[T]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[T]{Records: records, Authentic: authentic}, nil
}

// LookupTXT retrieves TXT records. Multi-string records are joined.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	return lookup(ctx, r, name, mdns.TypeTXT, func(rr mdns.RR) (string, bool) {
		txt, ok := rr.(*mdns.TXT)
		if !ok {
			return "", false
		}
		return strings.Join(txt.Txt, ""), true
	})
}

// LookupIP retrieves A and AAAA records. A missing family is not an error as
// long as the other one answers.
func (r *DNSResolver) LookupIP(ctx context.Context, domain string) (Result[net.IP], error) {
	v4, err4 := lookup(ctx, r, domain, mdns.TypeA, func(rr mdns.RR) (net.IP, bool) {
		a, ok := rr.(*mdns.A)
		if !ok {
			return nil, false
		}
		return a.A, true
	})
	v6, err6 := lookup(ctx, r, domain, mdns.TypeAAAA, func(rr mdns.RR) (net.IP, bool) {
		aaaa, ok := rr.(*mdns.AAAA)
		if !ok {
			return nil, false
		}
		return aaaa.AAAA, true
	})

	ips := append(v4.Records, v6.Records...)
	if len(ips) > 0 {
		return Result[net.IP]{Records: ips, Authentic: v4.Authentic && v6.Authentic}, nil
	}
	for _, err := range []error{err4, err6} {
		if err != nil && !IsNotFound(err) {
			return Result[net.IP]{}, err
		}
	}
	return Result[net.IP]{}, ErrDNSNotFound
}

// LookupMX retrieves MX records for the given domain.
func (r *DNSResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	return lookup(ctx, r, name, mdns.TypeMX, func(rr mdns.RR) (*net.MX, bool) {
		mx, ok := rr.(*mdns.MX)
		if !ok {
			return nil, false
		}
		return &net.MX{Host: mx.Mx, Pref: mx.Preference}, true
	})
}

// LookupAddr performs a reverse DNS lookup for the given IP address.
func (r *DNSResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if ip == nil {
		return Result[string]{}, fmt.Errorf("dns: nil IP address")
	}

	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return Result[string]{}, fmt.Errorf("dns: invalid IP for reverse lookup: %w", err)
	}

	return lookup(ctx, r, arpa, mdns.TypePTR, func(rr mdns.RR) (string, bool) {
		ptr, ok := rr.(*mdns.PTR)
		if !ok {
			return "", false
		}
		return ptr.Ptr, true
	})
}

// Config returns the resolver's current configuration.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}
