package espnow

import (
	"sync"

	"github.com/samber/oops"
)

// Hub is an in-memory radio medium connecting MemBind stations. Frames are
// delivered synchronously on the sender's goroutine, which mirrors the
// driver-context delivery of real radios closely enough for tests and demos.
type Hub struct {
	mu       sync.RWMutex
	stations map[Addr]*MemBind
	// DropFunc, when set, is consulted per (src, dst) delivery and returning
	// true discards the frame. Used to simulate loss.
	DropFunc func(src, dst Addr) bool
}

func NewHub() *Hub {
	return &Hub{stations: make(map[Addr]*MemBind)}
}

// NewBind attaches a new station with the given address to the hub.
func (h *Hub) NewBind(addr Addr) *MemBind {
	b := &MemBind{hub: h, addr: addr}
	h.mu.Lock()
	h.stations[addr] = b
	h.mu.Unlock()
	return b
}

func (h *Hub) transmit(src, dst Addr, payload []byte) {
	h.mu.RLock()
	var targets []*MemBind
	if dst.IsBroadcast() {
		for a, b := range h.stations {
			if a != src {
				targets = append(targets, b)
			}
		}
	} else if b, ok := h.stations[dst]; ok {
		targets = append(targets, b)
	}
	drop := h.DropFunc
	h.mu.RUnlock()

	for _, b := range targets {
		if drop != nil && drop(src, b.addr) {
			continue
		}
		b.deliver(src, payload)
	}
}

// MemBind is a Bind backed by a Hub.
type MemBind struct {
	hub  *Hub
	addr Addr

	mu     sync.RWMutex
	recv   ReceiveFunc
	closed bool
}

var _ Bind = (*MemBind)(nil)

func (b *MemBind) Open(recv ReceiveFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBindClosed
	}
	b.recv = recv
	return nil
}

func (b *MemBind) Send(dst Addr, payload []byte) error {
	if len(payload) > MTU {
		return oops.Wrapf(ErrFrameTooLarge, "%d bytes", len(payload))
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBindClosed
	}
	// Receivers keep no reference to the sender's buffer.
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.hub.transmit(b.addr, dst, cp)
	return nil
}

func (b *MemBind) deliver(src Addr, payload []byte) {
	b.mu.RLock()
	recv := b.recv
	closed := b.closed
	b.mu.RUnlock()
	if closed || recv == nil {
		return
	}
	recv(src, payload)
}

func (b *MemBind) Addr() Addr { return b.addr }

func (b *MemBind) Close() error {
	b.mu.Lock()
	b.closed = true
	b.recv = nil
	b.mu.Unlock()
	b.hub.mu.Lock()
	delete(b.hub.stations, b.addr)
	b.hub.mu.Unlock()
	return nil
}
