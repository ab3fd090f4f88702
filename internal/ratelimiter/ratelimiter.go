// Package ratelimiter throttles inbound handshake-initiating packets per
// source address, so a single noisy or malicious neighbor cannot force this
// node to spend unbounded CPU and crypto work servicing PublicKeyRequest
// floods. Logging and continuing past a single bad datagram does not, by
// itself, bound the rate of work a peer can demand.
//
// Grounded on wireguard-go's ratelimiter package: a mutex-guarded map keyed
// by source address with a background garbage-collection goroutine pruning
// idle entries, Init/Close lifecycle matching the datagram loop's own
// start/stop. The per-entry token bucket itself is golang.org/x/time/rate
// rather than wireguard-go's hand-rolled nanosecond counter — there is no
// reason to hand-roll what the ecosystem already provides.
package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kapua-mesh/kapua/internal/registry"
)

const (
	// RatePerSecond bounds sustained handshake-initiating packets accepted
	// from one source address.
	RatePerSecond = 20
	// Burst allows short bursts above the sustained rate, e.g. simultaneous
	// tie-break PublicKeyRequests from both sides of a fresh peer sighting.
	Burst = 5
	// idleTimeout is how long an address's bucket survives without being
	// consulted before the garbage collector reclaims it.
	idleTimeout = 10 * time.Second
	gcInterval  = time.Second
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-source-address token bucket. The zero value is not
// usable; construct with New.
type Limiter struct {
	mu      sync.Mutex
	entries map[registry.Addr]*entry
	stop    chan struct{}
	stopped bool
}

// New constructs a Limiter and starts its background garbage collector.
func New() *Limiter {
	l := &Limiter{
		entries: make(map[registry.Addr]*entry),
		stop:    make(chan struct{}),
	}
	go l.collectGarbage()
	return l
}

// Allow reports whether a packet from addr should be processed, consuming
// one token from that address's bucket if so.
func (l *Limiter) Allow(addr registry.Addr) bool {
	l.mu.Lock()
	e, ok := l.entries[addr]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(RatePerSecond), Burst)}
		l.entries[addr] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	return e.limiter.Allow()
}

// Close stops the garbage-collection goroutine. Calls after the first are
// no-ops.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stop)
}

func (l *Limiter) collectGarbage() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-idleTimeout)
			for addr, e := range l.entries {
				if e.lastSeen.Before(cutoff) {
					delete(l.entries, addr)
				}
			}
			l.mu.Unlock()
		}
	}
}
