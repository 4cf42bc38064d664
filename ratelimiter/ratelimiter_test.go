package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/enigmaiot/enigmaiot/espnow"
)

func TestBurstThenDeny(t *testing.T) {
	var r Ratelimiter
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }
	r.Init()
	defer r.Close()

	addr := espnow.Addr{1}
	allowed := 0
	for i := 0; i < int(burstSize)+2; i++ {
		if r.Allow(addr) {
			allowed++
		}
	}
	// with a frozen clock nothing refills, so exactly the burst is spendable
	assert.Equal(t, int(burstSize), allowed)
	assert.False(t, r.Allow(addr))
}

func TestTokensRefill(t *testing.T) {
	var r Ratelimiter
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }
	r.Init()
	defer r.Close()

	addr := espnow.Addr{2}
	for r.Allow(addr) {
	}
	// a second of quiet buys back the sustained rate
	now = now.Add(time.Second)
	assert.True(t, r.Allow(addr))
}

func TestAddressesAreIndependent(t *testing.T) {
	var r Ratelimiter
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }
	r.Init()
	defer r.Close()

	for r.Allow(espnow.Addr{3}) {
	}
	assert.True(t, r.Allow(espnow.Addr{4}))
}

func TestIdleBucketsPruned(t *testing.T) {
	var r Ratelimiter
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }
	r.Init()
	defer r.Close()

	addr := espnow.Addr{5}
	for r.Allow(addr) {
	}
	// long idle: the bucket is pruned and the address starts full again
	now = now.Add(pruneAfter + time.Second)
	allowed := 0
	for r.Allow(addr) {
		allowed++
	}
	assert.Equal(t, int(burstSize), allowed)
}

func TestClosedLimiterDenies(t *testing.T) {
	var r Ratelimiter
	r.Init()
	r.Close()
	assert.False(t, r.Allow(espnow.Addr{6}))
}
