package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StdResolver implements Resolver with the standard library resolver.
// Answers are never reported as authentic.
type StdResolver struct {
	resolver *net.Resolver
}

// NewStdResolver returns a Resolver backed by net.DefaultResolver.
func NewStdResolver() *StdResolver {
	return &StdResolver{resolver: net.DefaultResolver}
}

func (r *StdResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	records, err := r.resolver.LookupTXT(ctx, strings.TrimSuffix(name, "."))
	return stdResult(records, err)
}

func (r *StdResolver) LookupIP(ctx context.Context, domain string) (Result[net.IP], error) {
	ips, err := r.resolver.LookupIP(ctx, "ip", strings.TrimSuffix(domain, "."))
	return stdResult(ips, err)
}

func (r *StdResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	records, err := r.resolver.LookupMX(ctx, strings.TrimSuffix(name, "."))
	return stdResult(records, err)
}

func (r *StdResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if ip == nil {
		return Result[string]{}, fmt.Errorf("dns: nil IP address")
	}
	names, err := r.resolver.LookupAddr(ctx, ip.String())
	for i, name := range names {
		names[i] = ensureFQDN(name)
	}
	return stdResult(names, err)
}

func stdResult[T any](records []T, err error) (Result[T], error) {
	if err != nil {
		return Result[T]{}, convertError(err)
	}
	if len(records) == 0 {
		return Result[T]{}, ErrDNSNotFound
	}
	return Result[T]{Records: records}, nil
}

// convertError maps standard library DNS errors onto the package errors.
func convertError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return ErrDNSNotFound
		case dnsErr.IsTimeout:
			return ErrDNSTimeout
		case dnsErr.IsTemporary:
			return ErrDNSServFail
		}
	}
	return fmt.Errorf("dns lookup failed: %w", err)
}
