// Package fastfail provides policy hooks that reject unwanted clients and
// transactions as early as possible: DNS blocklists, relay policy, sender
// domain checks, recipient limits, IP filtering and rate limiting.
//
// Every policy is a plain hook value for smtp.Builder.Use:
//
//	server, err := smtp.New("mx.example.com").
//	    Use(fastfail.NewDNSRBL(resolver, "zen.spamhaus.org")).
//	    Use(fastfail.Defaults(resolver, "example.com")...).
//	    Build()
package fastfail

import (
	"time"

	"github.com/synqronlabs/wren/dns"
)

// Defaults returns a policy set suited to a public MX accepting mail for
// localDomains.
func Defaults(resolver dns.Resolver, localDomains ...string) []any {
	return []any{
		NewRateLimiter(100, time.Minute), // 100 connections/minute per IP
		MaxRcpt{Max: 100},
		&ValidSenderDomain{Resolver: resolver},
		&ValidRcptDomain{Domains: localDomains},
	}
}
