package device

import (
	"fmt"
	"time"

	"github.com/enigmaiot/enigmaiot/espnow"
	"github.com/enigmaiot/enigmaiot/replay"
)

// Status is the session state of a peer.
type Status int

const (
	Unregistered Status = iota
	InitPending
	ServerHelloSent
	WaitingConfirmation
	Registered
	KeyExpired
	Sleepy
)

func (s Status) String() string {
	switch s {
	case Unregistered:
		return "Unregistered"
	case InitPending:
		return "InitPending"
	case ServerHelloSent:
		return "ServerHelloSent"
	case WaitingConfirmation:
		return "WaitingConfirmation"
	case Registered:
		return "Registered"
	case KeyExpired:
		return "KeyExpired"
	case Sleepy:
		return "Sleepy"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// pendingDownstream is a frame queued for a sleepy peer, delivered right
// after its next upstream frame.
type pendingDownstream struct {
	frame  []byte
	queued time.Time
}

// Node is the per-peer session record. On the gateway one exists per
// registered node; mutation happens only on the dispatcher goroutine.
type Node struct {
	addr   espnow.Addr
	nodeID uint16
	status Status

	sessionKey  SessionKey
	keyID       byte
	noncePrefix [4]byte

	upCounter    *replay.Counter  // receive side, node → gateway
	downSeq      *replay.Sequence // transmit side, gateway → node
	bcastCounter *replay.Counter  // per-sender broadcast replay window

	lastActivity time.Time
	registeredAt time.Time

	name        string
	sleepy      bool
	sleepPeriod time.Duration

	rssi             int8
	packetsOK        uint32
	packetsErr       uint32
	lastMessageAt    time.Time
	broadcastKeySent bool

	pending []pendingDownstream
}

func newNode(addr espnow.Addr, id uint16, window uint16) *Node {
	return &Node{
		addr:         addr,
		nodeID:       id,
		upCounter:    replay.NewCounter(window),
		downSeq:      &replay.Sequence{},
		bcastCounter: replay.NewCounter(window),
	}
}

func (n *Node) Addr() espnow.Addr { return n.addr }
func (n *Node) ID() uint16        { return n.nodeID }
func (n *Node) Status() Status    { return n.status }
func (n *Node) Name() string      { return n.name }
func (n *Node) KeyID() byte       { return n.keyID }
func (n *Node) Sleepy() bool      { return n.sleepy }
func (n *Node) RSSI() int8        { return n.rssi }

// SetRSSI records the signal strength reported by an RSSI-capable radio
// driver; the bundled binds have no signal measurement.
func (n *Node) SetRSSI(v int8) { n.rssi = v }

// LastCounter is the last accepted upstream counter, kept for lost-message
// estimation.
func (n *Node) LastCounter() uint16 { return n.upCounter.Last() }

func (n *Node) PacketsOK() uint32  { return n.packetsOK }
func (n *Node) PacketsErr() uint32 { return n.packetsErr }

// PER is the packet error rate observed for this peer.
func (n *Node) PER() float64 {
	total := n.packetsOK + n.packetsErr
	if total == 0 {
		return 0
	}
	return float64(n.packetsErr) / float64(total)
}

// PacketsHour estimates the upstream packet rate since registration.
func (n *Node) PacketsHour(now time.Time) float64 {
	age := now.Sub(n.registeredAt)
	if age <= 0 {
		return 0
	}
	return float64(n.packetsOK) / age.Hours()
}

// installSession replaces the key material for a new epoch and resets both
// counters. Prior key bytes are wiped first.
func (n *Node) installSession(key SessionKey, keyID byte, prefix [4]byte, now time.Time) {
	setZero(n.sessionKey[:])
	n.sessionKey = key
	n.keyID = keyID
	n.noncePrefix = prefix
	n.upCounter.Reset()
	n.downSeq.Reset()
	n.status = Registered
	n.lastActivity = now
	n.registeredAt = now
	n.broadcastKeySent = false
}

// clearSession zeroes key material and returns the record to Unregistered.
func (n *Node) clearSession() {
	setZero(n.sessionKey[:])
	n.noncePrefix = [4]byte{}
	n.status = Unregistered
	n.upCounter.Reset()
	n.downSeq.Reset()
	n.broadcastKeySent = false
	n.pending = nil
}

// expired reports whether a registered session has seen no activity for
// longer than MaxKeyValidity.
func (n *Node) expired(now time.Time) bool {
	return n.status == Registered && now.Sub(n.lastActivity) > MaxKeyValidity
}

// enqueueDownstream stores a frame for delivery at the peer's next wake.
func (n *Node) enqueueDownstream(frame []byte, now time.Time) {
	n.pending = append(n.pending, pendingDownstream{frame: frame, queued: now})
}

// takePending returns the frames still within DownstreamTTL and clears the
// queue.
func (n *Node) takePending(now time.Time) [][]byte {
	var out [][]byte
	for _, p := range n.pending {
		if now.Sub(p.queued) <= DownstreamTTL {
			out = append(out, p.frame)
		}
	}
	n.pending = nil
	return out
}

// dropStalePending discards frames older than DownstreamTTL.
func (n *Node) dropStalePending(now time.Time) {
	kept := n.pending[:0]
	for _, p := range n.pending {
		if now.Sub(p.queued) <= DownstreamTTL {
			kept = append(kept, p)
		}
	}
	n.pending = kept
}
