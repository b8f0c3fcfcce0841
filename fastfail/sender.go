package fastfail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/dns"
	"github.com/synqronlabs/wren/smtp"
)

// ValidSenderDomain rejects senders whose domain cannot receive mail: it
// must have MX records, or address records as implicit MX (RFC 5321
// Section 5.1). The null sender and relaying clients are not checked.
type ValidSenderDomain struct {
	Resolver dns.Resolver

	// Timeout bounds the lookups of one check. Default 10 seconds.
	Timeout time.Duration
}

// DoMail rejects a sender whose domain cannot receive mail.
func (h *ValidSenderDomain) DoMail(s *smtp.Session, sender smtp.Path) wren.HookResult {
	if sender.IsNull() || s.IsRelayingAllowed() {
		return wren.Declined()
	}
	domain := sender.Domain()

	// A bare public suffix such as "com" never has mailboxes.
	if _, err := publicsuffix.EffectiveTLDPlusOne(domain); err != nil {
		return h.reject(s, sender)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(s.Context(), timeout)
	defer cancel()

	err := h.resolves(ctx, domain)
	switch {
	case err == nil:
		return wren.Declined()
	case dns.IsNotFound(err):
		return h.reject(s, sender)
	default:
		s.Logger().Warn("sender domain lookup failed", slog.String("domain", domain), slog.Any("error", err))
		return wren.DenySoft(wren.CodeLocalError, wren.EnhancedCode("4.4.3"), fmt.Sprintf("Unable to verify sender domain %s", domain))
	}
}

// resolves looks up MX records, then address records.
func (h *ValidSenderDomain) resolves(ctx context.Context, domain string) error {
	mx, err := h.Resolver.LookupMX(ctx, domain)
	if err == nil {
		// A null MX (RFC 7505) declares the domain accepts no mail.
		if len(mx.Records) == 1 && mx.Records[0].Host == "." {
			return dns.ErrDNSNotFound
		}
		return nil
	}
	if !dns.IsNotFound(err) {
		return err
	}
	_, err = h.Resolver.LookupIP(ctx, domain)
	return err
}

func (h *ValidSenderDomain) reject(s *smtp.Session, sender smtp.Path) wren.HookResult {
	s.Logger().Info("sender domain rejected", slog.String("sender", sender.String()))
	metricRejections.WithLabelValues("senderdomain").Inc()
	return wren.Deny(wren.CodeSyntaxError, wren.ESCBadSenderSystem,
		fmt.Sprintf("Sender %s contains a domain with no valid MX records", sender))
}
