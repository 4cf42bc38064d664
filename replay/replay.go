// Package replay implements the monotonic-counter acceptance rule that gives
// the link its replay defence. Counters are 16-bit with wraparound permitted:
// a frame is accepted iff its counter is strictly ahead of the last accepted
// one by at most the window size, modulo 2^16.
package replay

// DefaultWindow is the default acceptance window W.
const DefaultWindow = 256

// DefaultRejectLimit is how many consecutive counter rejects a session
// tolerates before it is invalidated.
const DefaultRejectLimit = 3

// Counter tracks one direction of a session. The zero value uses
// DefaultWindow and accepts a first counter between 1 and the window size,
// which matches a freshly handshaked session. Counters are unsafe for concurrent
// use; they are owned by the dispatcher.
type Counter struct {
	last    uint16
	window  uint16
	rejects uint8
}

// NewCounter creates a Counter with an explicit window. A zero window selects
// DefaultWindow.
func NewCounter(window uint16) *Counter {
	return &Counter{window: window}
}

func (c *Counter) effectiveWindow() uint16 {
	if c.window == 0 {
		return DefaultWindow
	}
	return c.window
}

// Validate checks a received counter. On accept it returns the number of
// messages lost since the previous accepted frame and advances the counter.
// On reject the internal consecutive-reject count grows; any accept clears
// it.
func (c *Counter) Validate(received uint16) (lost uint16, ok bool) {
	diff := received - c.last // mod 2^16 by unsigned arithmetic
	if diff == 0 || diff > c.effectiveWindow() {
		if c.rejects < 0xff {
			c.rejects++
		}
		return 0, false
	}
	c.last = received
	c.rejects = 0
	return diff - 1, true
}

// Exhausted reports whether the consecutive-reject limit has been reached.
func (c *Counter) Exhausted() bool {
	return c.rejects >= DefaultRejectLimit
}

// Last returns the last accepted counter value.
func (c *Counter) Last() uint16 {
	return c.last
}

// Reset rewinds the counter for a fresh key epoch.
func (c *Counter) Reset() {
	c.last = 0
	c.rejects = 0
}

// Sequence is the transmit side: a strictly increasing 16-bit counter with
// wraparound.
type Sequence struct {
	next uint16
}

// Advance returns the counter value to stamp on the next outgoing frame.
func (s *Sequence) Advance() uint16 {
	s.next++
	if s.next == 0 {
		// zero is never valid against a fresh receiver
		s.next = 1
	}
	return s.next
}

// Current returns the last value handed out by Advance.
func (s *Sequence) Current() uint16 {
	return s.next
}

// Reset rewinds the sequence for a fresh key epoch.
func (s *Sequence) Reset() {
	s.next = 0
}
