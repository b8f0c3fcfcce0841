package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver is a Resolver used for testing.
// Record maps are keyed by FQDN with trailing dot; PTR is keyed by IP string.
type MockResolver struct {
	PTR  map[string][]string
	A    map[string][]string
	AAAA map[string][]string
	TXT  map[string][]string
	MX   map[string][]*net.MX

	// Fail lists lookups that answer with SERVFAIL, formatted as
	// "type name" with a lower-case type, e.g. "txt example.com.".
	Fail []string

	// AllAuthentic is the default Authentic value, overridden per lookup
	// by the Authentic and Inauthentic lists (same format as Fail).
	AllAuthentic bool
	Authentic    []string
	Inauthentic  []string
}

var _ Resolver = MockResolver{}

// ensureFQDN ensures the name ends with a dot.
func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

// check applies Fail and the authentic lists to one request.
func (r MockResolver) check(ctx context.Context, authentic *bool, reqs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, req := range reqs {
		if slices.Contains(r.Fail, req) {
			return ErrDNSServFail
		}
		if slices.Contains(r.Authentic, req) {
			*authentic = true
		}
		if slices.Contains(r.Inauthentic, req) {
			*authentic = false
		}
	}
	return nil
}

func mockLookup[T any](ctx context.Context, r MockResolver, typ, key string, records []T) (Result[T], error) {
	res := Result[T]{Authentic: r.AllAuthentic}
	if err := r.check(ctx, &res.Authentic, typ+" "+key); err != nil {
		return res, err
	}
	if len(records) == 0 {
		return res, ErrDNSNotFound
	}
	res.Records = records
	return res, nil
}

func (r MockResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	fqdn := ensureFQDN(name)
	return mockLookup(ctx, r, "txt", fqdn, r.TXT[fqdn])
}

func (r MockResolver) LookupIP(ctx context.Context, domain string) (Result[net.IP], error) {
	fqdn := ensureFQDN(domain)
	res := Result[net.IP]{Authentic: r.AllAuthentic}
	if err := r.check(ctx, &res.Authentic, "a "+fqdn, "aaaa "+fqdn); err != nil {
		return res, err
	}

	for _, ip := range r.A[fqdn] {
		res.Records = append(res.Records, net.ParseIP(ip))
	}
	for _, ip := range r.AAAA[fqdn] {
		res.Records = append(res.Records, net.ParseIP(ip))
	}
	if len(res.Records) == 0 {
		return res, ErrDNSNotFound
	}
	return res, nil
}

func (r MockResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	fqdn := ensureFQDN(name)
	return mockLookup(ctx, r, "mx", fqdn, r.MX[fqdn])
}

func (r MockResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	key := ip.String()
	return mockLookup(ctx, r, "ptr", key, r.PTR[key])
}
