// Package clocksync implements the coarse time synchronization sleepy nodes
// use to schedule their wake windows. Timestamps are microseconds; the
// exchange is the classic four-timestamp SNTP form and targets millisecond
// accuracy.
package clocksync

import "time"

// Micros converts a wall-clock instant to protocol microseconds.
func Micros(t time.Time) uint64 {
	return uint64(t.UnixMicro())
}

// Offset computes the clock offset of the requester relative to the
// responder: ((t2 − t1) + (t3 − t4)) / 2. t1/t4 are the requester's send and
// receive instants, t2/t3 the responder's receive and send instants.
func Offset(t1, t2, t3, t4 uint64) time.Duration {
	o := (int64(t2-t1) + int64(t3-t4)) / 2
	return time.Duration(o) * time.Microsecond
}

// RoundTrip computes the network round-trip of the exchange, excluding the
// responder's processing time: (t4 − t1) − (t3 − t2).
func RoundTrip(t1, t2, t3, t4 uint64) time.Duration {
	rt := int64(t4-t1) - int64(t3-t2)
	return time.Duration(rt) * time.Microsecond
}
