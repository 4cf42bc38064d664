// Package espnow abstracts the connectionless broadcast-capable radio the
// protocol runs over: 6-byte addresses, bounded MTU, no sessions, no ordering
// guarantees beyond per-sender arrival order.
package espnow

import "errors"

// MTU is the largest frame a bind will accept for transmission.
const MTU = 250

var (
	ErrFrameTooLarge = errors.New("frame exceeds radio MTU")
	ErrBindClosed    = errors.New("bind is closed")
)

// ReceiveFunc is invoked for every frame addressed to this station (or
// broadcast). It may run on any goroutine, including time-critical driver
// contexts: implementations must copy the payload and return quickly.
type ReceiveFunc func(src Addr, payload []byte)

// Bind is a station on the radio medium.
type Bind interface {
	// Open registers the receive hook and starts reception.
	Open(recv ReceiveFunc) error
	// Send transmits a frame to dst, which may be BroadcastAddr. It is
	// fire-and-forget: a nil error means the frame was handed to the medium,
	// not that anyone received it.
	Send(dst Addr, payload []byte) error
	// Addr returns this station's own address.
	Addr() Addr
	Close() error
}
