package device

import (
	"time"

	"github.com/enigmaiot/enigmaiot/ringbuf"
)

/* Protocol constants */
const (
	// session lifetime without activity; a session idle longer than this
	// must be renegotiated
	MaxKeyValidity = 24 * time.Hour
	// handshakes not completed within this window are abandoned
	HandshakeTimeout = 10 * time.Second
	// registered peers idle longer than this are evicted from the table
	IdleEvictionTime = 2 * MaxKeyValidity
	// queued downstream messages for sleepy peers are dropped after this
	DownstreamTTL = 15 * time.Minute
	// counter acceptance window W
	CounterWindow = 256
)

/* Implementation constants */
const (
	// maximum number of simultaneously registered peers
	MaxNodes = 100
	// primary receive ring capacity
	InputQueueSize = 8
	// secondary overflow area capacity
	InputOverflowSize = ringbuf.DefaultOverflowSize
)

/* Home Assistant discovery dispatch cadence. Delays double for sleepy peers. */
const (
	HAFirstDiscoveryDelay = 10 * time.Second
	HANextDiscoveryDelay  = 500 * time.Millisecond
)
