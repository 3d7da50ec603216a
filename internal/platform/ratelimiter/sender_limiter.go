// Package ratelimiter throttles how fast a single custodial identity can
// push ledger submissions. It is not a serialization lock and does not close
// the concurrent-balance-check race; it only keeps one hot sender from
// monopolizing the node connection.
package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

// SenderLimiter holds one token bucket per sender address. Buckets for
// senders that go quiet are dropped on a time-based sweep so the map stays
// proportional to recently active wallets, not to every wallet ever seen.
type SenderLimiter struct {
	perSender rate.Limit
	burst     int
	idleTTL   time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	tokens  *rate.Limiter
	touched time.Time
}

// New creates a per-sender limiter; returns nil if args are invalid. A nil
// limiter allows everything.
func New(rps float64, burst int, idleTTL time.Duration) *SenderLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &SenderLimiter{
		perSender: rate.Limit(rps),
		burst:     burst,
		idleTTL:   idleTTL,
		buckets:   make(map[string]*bucket),
	}
}

// Allow reports whether one submission can proceed for the sender at now.
func (l *SenderLimiter) Allow(sender string, now time.Time) bool {
	if l == nil {
		return true
	}
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.nextSweep) {
		l.sweep(now)
	}

	b := l.buckets[sender]
	if b == nil {
		b = &bucket{tokens: rate.NewLimiter(l.perSender, l.burst)}
		l.buckets[sender] = b
	}
	b.touched = now
	return b.tokens.AllowN(now, 1)
}

// Tracked reports how many sender buckets are currently held.
func (l *SenderLimiter) Tracked() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops buckets idle past the TTL. Callers hold l.mu. The next sweep
// is scheduled at half the TTL so an entry lives at most 1.5x its TTL.
func (l *SenderLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for addr, b := range l.buckets {
		if b.touched.Before(cutoff) {
			delete(l.buckets, addr)
		}
	}
	l.nextSweep = now.Add(l.idleTTL / 2)
}
