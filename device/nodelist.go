package device

import (
	"time"

	"github.com/samber/oops"

	"github.com/enigmaiot/enigmaiot/espnow"
)

// NodeList is the gateway's bounded peer table, keyed by link-layer address
// with a secondary unique index on node name. It is owned by the dispatcher
// goroutine and needs no locking.
type NodeList struct {
	capacity int
	byAddr   map[espnow.Addr]*Node
	byName   map[string]*Node
	nextID   uint16
	window   uint16
}

var ErrTableFull = oops.Errorf("node table is full")

func NewNodeList(capacity int, window uint16) *NodeList {
	if capacity < 1 {
		capacity = MaxNodes
	}
	return &NodeList{
		capacity: capacity,
		byAddr:   make(map[espnow.Addr]*Node, capacity),
		byName:   make(map[string]*Node),
		window:   window,
	}
}

// FindByAddr returns the record for addr, or nil.
func (l *NodeList) FindByAddr(addr espnow.Addr) *Node {
	return l.byAddr[addr]
}

// FindByName returns the record claiming name, or nil. Empty names are never
// indexed.
func (l *NodeList) FindByName(name string) *Node {
	if name == "" {
		return nil
	}
	return l.byName[name]
}

// Insert returns the record for addr, creating it if absent. A repeated
// insert for the same address reuses the existing record (a new handshake
// replaces the session, not the identity). Fails only when the table is at
// capacity.
func (l *NodeList) Insert(addr espnow.Addr) (*Node, error) {
	if n, ok := l.byAddr[addr]; ok {
		return n, nil
	}
	if len(l.byAddr) >= l.capacity {
		return nil, ErrTableFull
	}
	l.nextID++
	n := newNode(addr, l.nextID, l.window)
	l.byAddr[addr] = n
	return n, nil
}

// Remove deletes the record and releases its name.
func (l *NodeList) Remove(addr espnow.Addr) {
	n, ok := l.byAddr[addr]
	if !ok {
		return
	}
	if n.name != "" {
		delete(l.byName, n.name)
	}
	n.clearSession()
	delete(l.byAddr, addr)
}

// ClaimName enforces name uniqueness across registered peers. The previous
// name of the claimant, if any, is released.
func (l *NodeList) ClaimName(n *Node, name string) error {
	if other := l.byName[name]; other != nil && other != n {
		return oops.Errorf("name %q already in use by %s", name, other.addr)
	}
	if n.name != "" {
		delete(l.byName, n.name)
	}
	n.name = name
	l.byName[name] = n
	return nil
}

// IterateActive calls fn for every registered peer. Iteration order is
// unspecified.
func (l *NodeList) IterateActive(fn func(*Node)) {
	for _, n := range l.byAddr {
		if n.status == Registered {
			fn(n)
		}
	}
}

// CountActive returns the number of registered peers.
func (l *NodeList) CountActive() int {
	count := 0
	for _, n := range l.byAddr {
		if n.status == Registered {
			count++
		}
	}
	return count
}

// EvictIdle removes peers whose last activity is older than IdleEvictionTime
// and returns the evicted records.
func (l *NodeList) EvictIdle(now time.Time) []*Node {
	var evicted []*Node
	for addr, n := range l.byAddr {
		if !n.lastActivity.IsZero() && now.Sub(n.lastActivity) > IdleEvictionTime {
			evicted = append(evicted, n)
			if n.name != "" {
				delete(l.byName, n.name)
			}
			n.clearSession()
			delete(l.byAddr, addr)
		}
	}
	return evicted
}
