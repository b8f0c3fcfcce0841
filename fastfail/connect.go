package fastfail

import (
	"net"
	"sync"
	"time"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/smtp"
)

// ---- Rate Limiting ----

// RateLimiter limits how many connections one client IP may open per
// window. It is a ConnectHook.
type RateLimiter struct {
	mu     sync.Mutex
	counts map[string]*rateLimitEntry
	limit  int
	window time.Duration
	stop   chan struct{}
	once   sync.Once
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter.
// limit is the maximum connections per window from a single IP.
// Close stops its cleanup goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		counts: make(map[string]*rateLimitEntry),
		limit:  limit,
		window: window,
		stop:   make(chan struct{}),
	}
	go rl.cleanup(window * 2)
	return rl
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, entry := range rl.counts {
				if now.Sub(entry.windowStart) > rl.window {
					delete(rl.counts, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// Allow checks if the IP is allowed and increments the counter.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, ok := rl.counts[ip]
	if !ok || now.Sub(entry.windowStart) > rl.window {
		rl.counts[ip] = &rateLimitEntry{count: 1, windowStart: now}
		return true
	}
	if entry.count >= rl.limit {
		return false
	}
	entry.count++
	return true
}

// DoConnect refuses a client that exceeded its connection rate.
func (rl *RateLimiter) DoConnect(s *smtp.Session) wren.HookResult {
	if rl.Allow(s.RemoteIP().String()) {
		return wren.Declined()
	}
	metricRejections.WithLabelValues("ratelimit").Inc()
	return wren.DenySoft(wren.CodeServiceUnavailable, wren.ESCTempSecurity, "Too many connections, please try again later")
}

// ---- IP Filtering ----

// IPFilterMode determines how the filter operates.
type IPFilterMode int

const (
	// IPFilterModeAllow only allows IPs in the allow list.
	IPFilterModeAllow IPFilterMode = iota
	// IPFilterModeDeny only denies IPs in the deny list.
	IPFilterModeDeny
)

// IPFilter allows or denies connections by client network. It is a
// ConnectHook.
type IPFilter struct {
	mu    sync.RWMutex
	allow []*net.IPNet
	deny  []*net.IPNet
	mode  IPFilterMode
}

// NewIPFilter creates a new IP filter.
func NewIPFilter(mode IPFilterMode) *IPFilter {
	return &IPFilter{mode: mode}
}

// Allow adds addresses or CIDR networks to the allow list.
func (f *IPFilter) Allow(cidrs ...string) error {
	nets, err := smtp.ParseNetworks(cidrs...)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allow = append(f.allow, nets...)
	return nil
}

// Deny adds addresses or CIDR networks to the deny list.
func (f *IPFilter) Deny(cidrs ...string) error {
	nets, err := smtp.ParseNetworks(cidrs...)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deny = append(f.deny, nets...)
	return nil
}

// IsAllowed checks if an IP is allowed.
func (f *IPFilter) IsAllowed(ip net.IP) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch f.mode {
	case IPFilterModeAllow:
		return contains(f.allow, ip)
	case IPFilterModeDeny:
		return !contains(f.deny, ip)
	}
	return true
}

// DoConnect refuses clients the filter does not allow.
func (f *IPFilter) DoConnect(s *smtp.Session) wren.HookResult {
	if f.IsAllowed(s.RemoteIP()) {
		return wren.Declined()
	}
	metricRejections.WithLabelValues("ipfilter").Inc()
	return wren.Deny(wren.CodeTransactionFailed, wren.ESCDeliveryNotAuth, "Connection not allowed from your IP address")
}

func contains(nets []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
