// Package ratelimiter damps handshake floods. Each peer address gets a token
// bucket; CLIENT_HELLO processing is skipped for addresses that exceed the
// sustained rate, which bounds the DH work a hostile sender can force on the
// gateway.
package ratelimiter

import (
	"sync"
	"time"

	"github.com/enigmaiot/enigmaiot/espnow"
)

const (
	// sustained refill rate, in handshakes per second per address
	handshakeRate = 2.0
	// bucket capacity: a quiet address may burst this many handshakes
	burstSize = 3.0
	// idle buckets older than this are pruned by the sweep Allow runs at
	// most once per this interval
	pruneAfter = 10 * time.Second
)

// bucket counts whole handshakes as fractional tokens. It is only touched
// under the Ratelimiter lock; refill happens lazily from the elapsed time
// since the last update, so no background goroutine is needed.
type bucket struct {
	tokens  float64
	updated time.Time
}

type Ratelimiter struct {
	mu        sync.Mutex
	buckets   map[espnow.Addr]*bucket
	now       func() time.Time // returns the current local time
	lastPrune time.Time
}

func (r *Ratelimiter) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = make(map[espnow.Addr]*bucket)
	if r.now == nil {
		r.now = time.Now
	}
	r.lastPrune = r.now()
}

// Allow reports whether a handshake attempt from addr may be processed now.
func (r *Ratelimiter) Allow(addr espnow.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buckets == nil {
		return false
	}
	now := r.now()
	if now.Sub(r.lastPrune) >= pruneAfter {
		r.prune(now)
	}

	b, ok := r.buckets[addr]
	if !ok {
		// unseen addresses start with a full bucket
		b = &bucket{tokens: burstSize, updated: now}
		r.buckets[addr] = b
	} else {
		b.tokens += now.Sub(b.updated).Seconds() * handshakeRate
		if b.tokens > burstSize {
			b.tokens = burstSize
		}
		b.updated = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// prune drops buckets that have been idle long enough to be full again; they
// are indistinguishable from unseen addresses. Caller holds the lock.
func (r *Ratelimiter) prune(now time.Time) {
	for addr, b := range r.buckets {
		if now.Sub(b.updated) >= pruneAfter {
			delete(r.buckets, addr)
		}
	}
	r.lastPrune = now
}

func (r *Ratelimiter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = nil
}
