package wren

import (
	"sync"
	"sync/atomic"
)

// ConnectionCounter bounds the number of open connections of a server.
// A limit of zero or less disables the bound.
type ConnectionCounter struct {
	limit int64
	count atomic.Int64
}

// NewConnectionCounter creates a counter admitting limit connections.
func NewConnectionCounter(limit int) *ConnectionCounter {
	return &ConnectionCounter{limit: int64(limit)}
}

// Acquire reserves a slot. It returns false when the limit is reached.
func (c *ConnectionCounter) Acquire() bool {
	for {
		n := c.count.Load()
		if c.limit > 0 && n >= c.limit {
			return false
		}
		if c.count.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release frees a slot taken by Acquire.
func (c *ConnectionCounter) Release() {
	c.count.Add(-1)
}

// Count returns the number of reserved slots.
func (c *ConnectionCounter) Count() int {
	return int(c.count.Load())
}

// PerIPCounter bounds the number of open connections per client address.
// A limit of zero or less disables the bound.
type PerIPCounter struct {
	limit  int
	mu     sync.Mutex
	counts map[string]int
}

// NewPerIPCounter creates a counter admitting limit connections per IP.
func NewPerIPCounter(limit int) *PerIPCounter {
	return &PerIPCounter{
		limit:  limit,
		counts: make(map[string]int),
	}
}

// Acquire reserves a slot for ip. It returns false when ip is at its limit.
func (c *PerIPCounter) Acquire(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && c.counts[ip] >= c.limit {
		return false
	}
	c.counts[ip]++
	return true
}

// Release frees a slot of ip. Entries reaching zero are dropped so the map
// only holds connected clients.
func (c *PerIPCounter) Release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.counts[ip]; n <= 1 {
		delete(c.counts, ip)
	} else {
		c.counts[ip] = n - 1
	}
}

// Count returns the number of slots held by ip.
func (c *PerIPCounter) Count(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[ip]
}
