// Package dns provides the DNS lookups used by connection and recipient
// policies: forward address lookups, TXT, MX and PTR records.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	mdns "github.com/miekg/dns"

	"github.com/synqronlabs/wren/utils"
)

var (
	ErrDNSNotFound = errors.New("dns: name not found")
	ErrDNSTimeout  = errors.New("dns: query timed out")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSRefused  = errors.New("dns: query refused")
	ErrDNSBogus    = errors.New("dns: DNSSEC validation failed")
)

// Resolver is the lookup service consulted by policies.
// Implementations must be safe for concurrent use.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) (Result[string], error)
	LookupIP(ctx context.Context, domain string) (Result[net.IP], error)
	LookupMX(ctx context.Context, name string) (Result[*net.MX], error)
	LookupAddr(ctx context.Context, ip net.IP) (Result[string], error)
}

// Result holds the records of one lookup. Authentic is set when the answer
// was DNSSEC validated by the upstream resolver.
type Result[T any] struct {
	Records   []T
	Authentic bool
}

// IsNotFound reports whether the name or record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether the lookup timed out.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsServFail reports whether the server answered SERVFAIL.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether retrying the lookup later may succeed.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err)
}

// ReverseLookup returns the first PTR name of the IP behind addr, without the
// trailing dot.
func ReverseLookup(ctx context.Context, r Resolver, addr net.Addr) (string, error) {
	ip, err := utils.GetIPFromAddr(addr)
	if err != nil {
		return "", err
	}

	res, err := r.LookupAddr(ctx, ip)
	if err != nil {
		return "", fmt.Errorf("reverse DNS lookup failed: %w", err)
	}
	return strings.TrimSuffix(res.Records[0], "."), nil
}

// ReverseName returns the label sequence used to look ip up in a DNS list
// zone: "2.0.0.127." for 127.0.0.2, nibbles for IPv6. The result ends with a
// dot so a zone name can be appended directly.
func ReverseName(ip net.IP) (string, error) {
	if ip == nil {
		return "", fmt.Errorf("dns: nil IP address")
	}
	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return "", fmt.Errorf("dns: invalid IP for reverse lookup: %w", err)
	}
	for _, suffix := range []string{"in-addr.arpa.", "ip6.arpa."} {
		if strings.HasSuffix(arpa, suffix) {
			return strings.TrimSuffix(arpa, suffix), nil
		}
	}
	return "", fmt.Errorf("dns: unexpected reverse name %q", arpa)
}
