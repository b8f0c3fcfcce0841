package fastfail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/dns"
	"github.com/synqronlabs/wren/smtp"
)

// Connection attachments set by DNSRBL. They survive RSET so the lists
// are queried at most once per connection.
var (
	// BlocklistedKey holds the blocklist zone the client is listed in.
	BlocklistedKey = wren.ConnectionKey[string]("fastfail.rbl.blocklisted")
	// DetailKey holds the TXT record published for the listing.
	DetailKey = wren.ConnectionKey[string]("fastfail.rbl.detail")

	rblCheckedKey = wren.ConnectionKey[bool]("fastfail.rbl.checked")
)

// DNSRBL rejects recipients for clients listed in a DNS blocklist. Clients
// allowed to relay are never checked, and a listing in one of the
// Allowlists overrides every blocklist. Mail to postmaster and abuse is
// always accepted (RFC 5321 Section 4.5.1, RFC 2142).
type DNSRBL struct {
	Resolver   dns.Resolver
	Blocklists []string
	Allowlists []string

	// GetDetail fetches the TXT record of a listing and uses it as reply.
	GetDetail bool

	// Timeout bounds the lookups of one check. Default 10 seconds.
	Timeout time.Duration
}

// NewDNSRBL returns a DNSRBL querying the given blocklist zones.
func NewDNSRBL(resolver dns.Resolver, zones ...string) *DNSRBL {
	return &DNSRBL{Resolver: resolver, Blocklists: zones}
}

// DoRcpt denies recipients for clients listed on a blocklist.
func (h *DNSRBL) DoRcpt(s *smtp.Session, sender, rcpt smtp.Path) wren.HookResult {
	if s.IsRelayingAllowed() {
		return wren.Declined()
	}
	h.check(s)

	zone, listed := BlocklistedKey.Get(s.Session)
	if !listed {
		return wren.Declined()
	}
	switch strings.ToLower(rcpt.Mailbox.LocalPart) {
	case "postmaster", "abuse":
		return wren.Declined()
	}

	s.Logger().Info("recipient rejected, client blocklisted",
		slog.String("zone", zone),
		slog.String("rcpt", rcpt.String()),
	)
	metricRejections.WithLabelValues("dnsrbl").Inc()

	msg := fmt.Sprintf("Rejected: unauthenticated e-mail from %s is restricted.  Contact the postmaster for details.", s.RemoteIP())
	if detail, ok := DetailKey.Get(s.Session); ok {
		msg = detail
	}
	return wren.Deny(wren.CodeTransactionFailed, wren.ESCDeliveryNotAuth, msg)
}

// check queries the lists once per connection and records the verdict.
func (h *DNSRBL) check(s *smtp.Session) {
	if rblCheckedKey.Has(s.Session) {
		return
	}
	rblCheckedKey.Set(s.Session, true)

	ip := s.RemoteIP()
	name, err := dns.ReverseName(ip)
	if err != nil {
		s.Logger().Debug("skipping DNSRBL check", slog.Any("error", err))
		return
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(s.Context(), timeout)
	defer cancel()

	for _, zone := range h.Allowlists {
		if h.listed(ctx, s, name+fqdn(zone)) {
			s.Logger().Debug("client allowlisted", slog.String("zone", zone))
			return
		}
	}
	for _, zone := range h.Blocklists {
		query := name + fqdn(zone)
		if !h.listed(ctx, s, query) {
			continue
		}
		BlocklistedKey.Set(s.Session, zone)
		if h.GetDetail {
			if txt, err := h.Resolver.LookupTXT(ctx, query); err == nil && len(txt.Records) > 0 {
				DetailKey.Set(s.Session, txt.Records[0])
			}
		}
		return
	}
}

// listed reports whether query has an address record. Lookup failures
// count as not listed.
func (h *DNSRBL) listed(ctx context.Context, s *smtp.Session, query string) bool {
	_, err := h.Resolver.LookupIP(ctx, query)
	switch {
	case err == nil:
		return true
	case dns.IsNotFound(err):
		return false
	default:
		s.Logger().Warn("DNSRBL lookup failed", slog.String("query", query), slog.Any("error", err))
		return false
	}
}

func fqdn(zone string) string {
	if strings.HasSuffix(zone, ".") {
		return zone
	}
	return zone + "."
}
