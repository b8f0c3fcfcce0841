package fastfail

import (
	"log/slog"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/smtp"
)

// MaxRcpt limits the number of recipients of one transaction.
type MaxRcpt struct {
	Max int
}

// DoRcpt refuses recipients beyond Max.
func (h MaxRcpt) DoRcpt(s *smtp.Session, sender, rcpt smtp.Path) wren.HookResult {
	if h.Max <= 0 || len(s.Recipients()) < h.Max {
		return wren.Declined()
	}
	metricRejections.WithLabelValues("maxrcpt").Inc()
	return wren.DenySoft(wren.CodeInsufficientStorage, wren.ESCTempTooManyRecipients, "Requested action not taken: max recipients reached")
}

// ValidRcptDomain is the relay policy: clients that may not relay can only
// send to the local domains. With IncludeSubdomains, any host below the
// registrable domain of a local domain is local too.
type ValidRcptDomain struct {
	Domains           []string
	IncludeSubdomains bool
}

// DoRcpt denies relaying to non-local domains.
func (h *ValidRcptDomain) DoRcpt(s *smtp.Session, sender, rcpt smtp.Path) wren.HookResult {
	if s.IsRelayingAllowed() || h.IsLocal(rcpt.Domain()) {
		return wren.Declined()
	}
	s.Logger().Info("relaying denied", slog.String("rcpt", rcpt.String()))
	metricRejections.WithLabelValues("rcptdomain").Inc()
	return wren.Deny(wren.CodeMailboxNotFound, wren.ESCDeliveryNotAuth, "Requested action not taken: relaying denied")
}

// IsLocal reports whether domain is one of the local domains.
func (h *ValidRcptDomain) IsLocal(domain string) bool {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	if domain == "" {
		return false
	}
	for _, d := range h.Domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	if !h.IncludeSubdomains {
		return false
	}
	org, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return false
	}
	for _, d := range h.Domains {
		if strings.EqualFold(d, org) {
			return true
		}
	}
	return false
}
