package device

import (
	"context"
	"crypto/rand"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/enigmaiot/enigmaiot/espnow"
	"github.com/enigmaiot/enigmaiot/logger"
	"github.com/enigmaiot/enigmaiot/ratelimiter"
	"github.com/enigmaiot/enigmaiot/replay"
	"github.com/enigmaiot/enigmaiot/ringbuf"
	"github.com/enigmaiot/enigmaiot/wire"
)

var log = logger.GetLogger()

// frameItem is the fixed-size record captured by the radio receive hook. A
// value copy keeps the hot path free of allocation.
type frameItem struct {
	src  espnow.Addr
	data [espnow.MTU]byte
	len  int
}

// GatewayConfig configures a Gateway. Bind and NetworkKey are mandatory.
type GatewayConfig struct {
	Bind        espnow.Bind
	NetworkKey  string
	NetworkName string
	// UseCounter disables replay counters when false; replay protection then
	// degrades to nonce uniqueness within a session.
	UseCounter *bool
	// CounterWindow is the acceptance window W; zero selects the default.
	CounterWindow uint16
	MaxNodes      int
	// Clock drives session timing; defaults to time.Now. Tests inject one.
	Clock func() time.Time
	// WallClock supplies the timestamps of CLOCK_RESPONSE; defaults to Clock.
	// An NTP-disciplined source can be plugged in here.
	WallClock func() time.Time
}

// Gateway is the coordinator runtime: it multiplexes the session state
// machine over the node table, fed by a single-producer receive ring and
// drained by Handle on a single consumer goroutine.
type Gateway struct {
	bind        espnow.Bind
	addr        espnow.Addr
	netKey      NetworkKey
	networkName string
	useCounter  bool

	nodes   *NodeList
	input   *ringbuf.Ring[frameItem]
	limiter ratelimiter.Ratelimiter

	now     func() time.Time
	wallNow func() time.Time

	callbacks GatewayCallbacks

	// broadcast keying
	bcastMaster SessionKey
	bcastEpoch  byte
	bcastKey    SessionKey
	bcastSeq    replay.Sequence

	ha haQueue
}

// NewGateway builds a gateway runtime. It does not touch the radio until
// Start.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Bind == nil {
		return nil, oops.Errorf("gateway requires a radio bind")
	}
	if cfg.NetworkKey == "" {
		return nil, oops.Errorf("gateway requires a network key")
	}
	maxNodes := cfg.MaxNodes
	if maxNodes == 0 {
		maxNodes = MaxNodes
	}
	window := cfg.CounterWindow
	if window == 0 {
		window = CounterWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	wall := cfg.WallClock
	if wall == nil {
		wall = clock
	}
	useCounter := true
	if cfg.UseCounter != nil {
		useCounter = *cfg.UseCounter
	}

	g := &Gateway{
		bind:        cfg.Bind,
		addr:        cfg.Bind.Addr(),
		netKey:      HashNetworkKey(cfg.NetworkKey),
		networkName: cfg.NetworkName,
		useCounter:  useCounter,
		nodes:       NewNodeList(maxNodes, window),
		input:       ringbuf.NewWithOverflow[frameItem](InputQueueSize, InputOverflowSize),
		now:         clock,
		wallNow:     wall,
	}
	if _, err := rand.Read(g.bcastMaster[:]); err != nil {
		return nil, oops.Errorf("seeding broadcast master: %w", err)
	}
	if err := g.rotateBroadcastKey(); err != nil {
		return nil, err
	}
	g.limiter.Init()
	return g, nil
}

// SetCallbacks registers the application hooks. Call before Start.
func (g *Gateway) SetCallbacks(cb GatewayCallbacks) {
	g.callbacks = cb
}

// Start attaches the receive hook to the radio.
func (g *Gateway) Start() error {
	return g.bind.Open(g.radioReceive)
}

// Stop detaches from the radio and wipes every session.
func (g *Gateway) Stop() error {
	g.nodes.IterateActive(func(n *Node) {
		n.clearSession()
	})
	g.limiter.Close()
	return g.bind.Close()
}

// radioReceive is the producer side of the receive ring. It may run in
// driver context: copy and return.
func (g *Gateway) radioReceive(src espnow.Addr, payload []byte) {
	if len(payload) == 0 || len(payload) > espnow.MTU {
		return
	}
	var item frameItem
	item.src = src
	item.len = copy(item.data[:], payload)
	g.input.Push(item)
}

// Handle drains the receive ring and runs periodic maintenance. Call it from
// the application's main loop; all session state is owned by the calling
// goroutine.
func (g *Gateway) Handle() {
	for {
		item, ok := g.input.Pop()
		if !ok {
			break
		}
		g.manageMessage(item.src, item.data[:item.len])
	}
	g.maintenance()
}

// Run drives Handle until the context is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Handle()
		}
	}
}

// manageMessage classifies one raw frame and routes it to its processor.
func (g *Gateway) manageMessage(src espnow.Addr, raw []byte) {
	t, err := wire.Classify(raw)
	if err != nil {
		log.WithError(err).WithField("src", src).Debug("dropping malformed frame")
		return
	}
	switch t {
	case wire.ClientHello:
		g.processClientHello(src, raw)
	case wire.SensorData, wire.ControlData, wire.ClockRequest,
		wire.NodeNameSet, wire.HADiscoveryMessage, wire.BroadcastKeyRequest:
		g.processSecure(src, raw, t)
	case wire.SensorBroadcastData:
		g.processBroadcast(src, raw)
	case wire.UnencryptedNodeData:
		g.processUnencrypted(src, raw)
	default:
		// downstream-only types have no business arriving here
		log.WithField("type", t).WithField("src", src).Debug("unexpected frame direction")
	}
}

// processClientHello runs the gateway half of the handshake. A valid hello
// from a registered peer starts a new key epoch (last writer wins).
func (g *Gateway) processClientHello(src espnow.Addr, raw []byte) {
	if !g.limiter.Allow(src) {
		log.WithField("src", src).Debug("handshake rate limited")
		return
	}
	hello, err := verifyClientHello(g.netKey, raw)
	if err != nil {
		log.WithError(err).WithField("src", src).Info("invalid client hello")
		g.sendInvalidate(src, wire.ReasonWrongClientHello)
		return
	}

	node, err := g.nodes.Insert(src)
	if err != nil {
		log.WithError(err).WithField("src", src).Warn("rejecting handshake")
		g.sendInvalidate(src, wire.ReasonUnknownError)
		return
	}

	priv, err := newPrivateKey()
	if err != nil {
		log.WithError(err).Error("generating ephemeral key")
		return
	}
	defer setZero(priv[:])
	pub := priv.publicKey()

	shared, err := priv.sharedSecret(PublicKey(hello.PublicKey))
	if err != nil {
		log.WithError(err).WithField("src", src).Info("rejecting handshake")
		g.sendInvalidate(src, wire.ReasonWrongClientHello)
		return
	}
	defer setZero(shared[:])

	ivG, err := randomIV()
	if err != nil {
		log.WithError(err).Error("generating handshake iv")
		return
	}
	sessionKey, err := deriveSessionKey(shared, hello.IV, ivG)
	if err != nil {
		log.WithError(err).Error("deriving session key")
		return
	}

	now := g.now()
	wasRegistered := node.status == Registered
	keyID := node.keyID + 1 // strictly increments mod 256 across epochs
	node.status = ServerHelloSent

	frame, err := buildServerHello(g.netKey, pub, ivG, keyID)
	if err != nil {
		log.WithError(err).Error("building server hello")
		node.clearSession()
		return
	}
	if err := g.bind.Send(src, frame); err != nil {
		log.WithError(err).WithField("src", src).Warn("sending server hello")
		node.clearSession()
		return
	}

	node.installSession(sessionKey, keyID, sessionNoncePrefix(hello.IV, ivG), now)
	log.WithField("src", src).WithField("key_id", keyID).Info("node registered")

	if !wasRegistered && g.callbacks.NewNode != nil {
		g.callbacks.NewNode(src, node.nodeID, node.name)
	}
	g.sendBroadcastKey(node)
}

// processSecure handles every session-keyed upstream frame.
func (g *Gateway) processSecure(src espnow.Addr, raw []byte, t wire.MessageType) {
	node := g.nodes.FindByAddr(src)
	if node == nil || node.status != Registered {
		log.WithField("src", src).Debug("data from unregistered node")
		g.sendInvalidate(src, wire.ReasonUnregisteredNode)
		return
	}
	now := g.now()
	if node.expired(now) {
		g.invalidateSession(node, wire.ReasonKeyExpired)
		return
	}

	var msg wire.SecureMsg
	if err := msg.Unmarshal(raw); err != nil {
		node.packetsErr++
		return
	}
	if msg.KeyID != node.keyID {
		// stale epoch, e.g. a frame that crossed a rekey; drop silently
		log.WithField("src", src).WithField("key_id", msg.KeyID).Debug("key epoch mismatch")
		node.packetsErr++
		return
	}

	plaintext, err := openFrame(node.sessionKey, &msg, src, g.addr)
	if err != nil {
		node.packetsErr++
		log.WithField("src", src).Info("decrypt failed, invalidating session")
		g.invalidateSession(node, wire.ReasonWrongData)
		return
	}

	var lost uint16
	if g.useCounter {
		var ok bool
		lost, ok = node.upCounter.Validate(msg.Counter)
		if !ok {
			node.packetsErr++
			log.WithField("src", src).WithField("counter", msg.Counter).Debug("counter reject")
			if node.upCounter.Exhausted() {
				g.invalidateSession(node, wire.ReasonWrongData)
			}
			return
		}
	}

	node.packetsOK++
	node.lastActivity = now
	node.lastMessageAt = now

	switch t {
	case wire.SensorData, wire.ControlData:
		g.deliverData(node, t, plaintext, lost)
	case wire.ClockRequest:
		g.processClockRequest(node, plaintext)
	case wire.NodeNameSet:
		g.processNodeNameSet(node, plaintext)
	case wire.HADiscoveryMessage:
		g.processHADiscovery(node, plaintext)
	case wire.BroadcastKeyRequest:
		g.sendBroadcastKey(node)
	}

	g.flushPending(node, now)
}

// deliverData hands a data payload up and interprets internal control
// subtypes. Data frames lead with an encoding byte; control frames lead with
// the control subtype and are forwarded whole.
func (g *Gateway) deliverData(node *Node, t wire.MessageType, plaintext []byte, lost uint16) {
	if len(plaintext) < 1 {
		node.packetsErr++
		return
	}
	if wire.IsControl(t) {
		if g.processControl(node, plaintext) {
			return
		}
		if g.callbacks.DataRx != nil {
			g.callbacks.DataRx(node.addr, plaintext, lost, true, wire.EncodingEnigmaIOT, node.name)
		}
		return
	}
	encoding := wire.PayloadEncoding(plaintext[0])
	if g.callbacks.DataRx != nil {
		g.callbacks.DataRx(node.addr, plaintext[1:], lost, false, encoding, node.name)
	}
}

// processControl handles control subtypes terminated at the gateway. It
// returns true when the message should not be forwarded to the application.
func (g *Gateway) processControl(node *Node, plaintext []byte) bool {
	switch wire.ControlType(plaintext[0]) {
	case wire.CtrlSleepSet:
		if len(plaintext) >= 5 {
			secs := uint32(plaintext[1]) | uint32(plaintext[2])<<8 |
				uint32(plaintext[3])<<16 | uint32(plaintext[4])<<24
			node.sleepy = secs > 0
			node.sleepPeriod = time.Duration(secs) * time.Second
			log.WithField("src", node.addr).WithField("period", node.sleepPeriod).Debug("sleep period set")
		}
		return true
	case wire.CtrlSleepGet:
		// answer with the stored period; zero means the peer is not sleepy
		secs := uint32(node.sleepPeriod / time.Second)
		if !node.sleepy {
			secs = 0
		}
		reply := []byte{
			byte(wire.CtrlSleepGet),
			byte(secs), byte(secs >> 8), byte(secs >> 16), byte(secs >> 24),
		}
		// sent immediately: the peer is awake, it just asked
		g.sendSecure(node, wire.DownstreamCtrlData, reply)
		return true
	case wire.CtrlRestartGateway:
		log.WithField("src", node.addr).Info("gateway restart requested")
		if g.callbacks.RestartRequested != nil {
			g.callbacks.RestartRequested()
		}
		return true
	}
	return false
}

// processClockRequest timestamps receive and transmit and answers with the
// three timestamps the node needs for its offset computation.
func (g *Gateway) processClockRequest(node *Node, plaintext []byte) {
	var req wire.ClockRequestPayload
	if err := req.Unmarshal(plaintext); err != nil {
		node.packetsErr++
		return
	}
	t2 := uint64(g.wallNow().UnixMicro())
	resp := wire.ClockResponsePayload{T1: req.T1, T2: t2}
	resp.T3 = uint64(g.wallNow().UnixMicro())
	g.sendSecure(node, wire.ClockResponse, resp.Marshal())
}

func (g *Gateway) processNodeNameSet(node *Node, plaintext []byte) {
	code := wire.NameOK
	name := string(plaintext)
	switch {
	case len(plaintext) == 0:
		code = wire.NameEmpty
	case len(plaintext) > wire.MaxNameLen:
		code = wire.NameTooLong
	case !utf8.ValidString(name):
		code = wire.NameEncodeError
	default:
		if err := g.nodes.ClaimName(node, name); err != nil {
			code = wire.NameTaken
		}
	}
	if code == wire.NameOK {
		log.WithField("src", node.addr).WithField("name", name).Info("node name set")
	} else {
		log.WithField("src", node.addr).WithField("code", code).Info("node name rejected")
	}
	g.sendSecure(node, wire.NodeNameResult, []byte{byte(code)})
}

func (g *Gateway) processHADiscovery(node *Node, plaintext []byte) {
	payload, err := decodeHADiscovery(plaintext)
	if err != nil {
		log.WithError(err).WithField("src", node.addr).Warn("bad discovery payload")
		node.packetsErr++
		return
	}
	g.ha.enqueue(haItem{
		topic:   haTopic(g.networkName, node.name, node.addr),
		payload: payload,
		sleepy:  node.sleepy,
	}, g.now())
}

// processBroadcast validates a node-originated broadcast under the broadcast
// key with the sender's own replay window.
func (g *Gateway) processBroadcast(src espnow.Addr, raw []byte) {
	node := g.nodes.FindByAddr(src)
	if node == nil || node.status != Registered {
		return
	}
	var msg wire.SecureMsg
	if err := msg.Unmarshal(raw); err != nil {
		node.packetsErr++
		return
	}
	if msg.KeyID != g.bcastEpoch {
		node.packetsErr++
		return
	}
	plaintext, err := openFrame(g.bcastKey, &msg, src, espnow.BroadcastAddr)
	if err != nil {
		node.packetsErr++
		return
	}
	var lost uint16
	if g.useCounter {
		var ok bool
		lost, ok = node.bcastCounter.Validate(msg.Counter)
		if !ok {
			node.packetsErr++
			return
		}
	}
	node.packetsOK++
	node.lastActivity = g.now()
	if len(plaintext) < 1 {
		return
	}
	if g.callbacks.DataRx != nil {
		g.callbacks.DataRx(src, plaintext[1:], lost, false,
			wire.PayloadEncoding(plaintext[0]), node.name)
	}
}

func (g *Gateway) processUnencrypted(src espnow.Addr, raw []byte) {
	node := g.nodes.FindByAddr(src)
	if node == nil || node.status != Registered {
		g.sendInvalidate(src, wire.ReasonUnregisteredNode)
		return
	}
	var msg wire.UnencryptedDataMsg
	if err := msg.Unmarshal(raw); err != nil {
		node.packetsErr++
		return
	}
	var lost uint16
	if g.useCounter {
		var ok bool
		lost, ok = node.upCounter.Validate(msg.Counter)
		if !ok {
			node.packetsErr++
			if node.upCounter.Exhausted() {
				g.invalidateSession(node, wire.ReasonWrongData)
			}
			return
		}
	}
	node.packetsOK++
	node.lastActivity = g.now()
	if len(msg.Payload) < 1 {
		return
	}
	if g.callbacks.DataRx != nil {
		g.callbacks.DataRx(src, msg.Payload[1:], lost, false,
			wire.PayloadEncoding(msg.Payload[0]), node.name)
	}
	g.flushPending(node, g.now())
}

// sendSecure seals and transmits a downstream frame to a registered node.
func (g *Gateway) sendSecure(node *Node, t wire.MessageType, plaintext []byte) bool {
	counter := node.downSeq.Advance()
	frame, err := sealFrame(node.sessionKey, t, g.addr, node.addr,
		node.keyID, counter, node.noncePrefix, plaintext)
	if err != nil {
		log.WithError(err).WithField("dst", node.addr).Error("sealing downstream frame")
		return false
	}
	if err := g.bind.Send(node.addr, frame); err != nil {
		log.WithError(err).WithField("dst", node.addr).Warn("downstream send failed")
		return false
	}
	return true
}

// sendOrQueue transmits immediately or, for sleepy peers, seals now and
// queues for the next wake.
func (g *Gateway) sendOrQueue(node *Node, t wire.MessageType, plaintext []byte) error {
	if node.sleepy {
		counter := node.downSeq.Advance()
		frame, err := sealFrame(node.sessionKey, t, g.addr, node.addr,
			node.keyID, counter, node.noncePrefix, plaintext)
		if err != nil {
			return err
		}
		node.enqueueDownstream(frame, g.now())
		return nil
	}
	if !g.sendSecure(node, t, plaintext) {
		return oops.Errorf("send to %s failed", node.addr)
	}
	return nil
}

// SendDownstream encrypts application data for one node. Set selects
// DOWNSTREAM_DATA_SET over _GET. Frames to sleepy peers are queued for their
// next wake.
func (g *Gateway) SendDownstream(dst espnow.Addr, data []byte, set bool,
	encoding wire.PayloadEncoding) error {

	node := g.nodes.FindByAddr(dst)
	if node == nil || node.status != Registered {
		return oops.Errorf("node %s is not registered", dst)
	}
	t := wire.DownstreamDataGet
	if set {
		t = wire.DownstreamDataSet
	}
	return g.sendOrQueue(node, t, append([]byte{byte(encoding)}, data...))
}

// SendDownstreamControl sends an internal control message to one node.
func (g *Gateway) SendDownstreamControl(dst espnow.Addr, ctrl wire.ControlType, data []byte) error {
	node := g.nodes.FindByAddr(dst)
	if node == nil || node.status != Registered {
		return oops.Errorf("node %s is not registered", dst)
	}
	return g.sendOrQueue(node, wire.DownstreamCtrlData, append([]byte{byte(ctrl)}, data...))
}

// SendDownstreamByName resolves a claimed node name first.
func (g *Gateway) SendDownstreamByName(name string, data []byte, set bool,
	encoding wire.PayloadEncoding) error {

	node := g.nodes.FindByName(name)
	if node == nil {
		return oops.Errorf("no node named %q", name)
	}
	return g.SendDownstream(node.addr, data, set, encoding)
}

// SendBroadcast encrypts one downstream frame for every broadcast-key holder.
func (g *Gateway) SendBroadcast(data []byte, set bool, encoding wire.PayloadEncoding) error {
	t := wire.DownstreamBroadcastDataGet
	if set {
		t = wire.DownstreamBroadcastDataSet
	}
	return g.sendBroadcastFrame(t, append([]byte{byte(encoding)}, data...))
}

// SendBroadcastControl sends an internal control message to every
// broadcast-key holder.
func (g *Gateway) SendBroadcastControl(ctrl wire.ControlType, data []byte) error {
	return g.sendBroadcastFrame(wire.DownstreamBroadcastCtrlData, append([]byte{byte(ctrl)}, data...))
}

func (g *Gateway) sendBroadcastFrame(t wire.MessageType, plaintext []byte) error {
	counter := g.bcastSeq.Advance()
	frame, err := sealFrame(g.bcastKey, t, g.addr, espnow.BroadcastAddr,
		g.bcastEpoch, counter, broadcastNoncePrefix(g.addr), plaintext)
	if err != nil {
		return err
	}
	return g.bind.Send(espnow.BroadcastAddr, frame)
}

// sendBroadcastKey delivers the current epoch key inside the node's session.
func (g *Gateway) sendBroadcastKey(node *Node) {
	payload := wire.BroadcastKeyPayload{Epoch: g.bcastEpoch, Key: g.bcastKey}
	if g.sendSecure(node, wire.BroadcastKeyResponse, payload.Marshal()) {
		node.broadcastKeySent = true
	}
}

// rotateBroadcastKey advances the broadcast epoch. Registered peers get the
// new key pushed immediately; anything mid-flight under the old epoch is
// dropped by the epoch check.
func (g *Gateway) rotateBroadcastKey() error {
	g.bcastEpoch++
	key, err := deriveBroadcastKey(g.bcastMaster, g.bcastEpoch)
	if err != nil {
		return err
	}
	setZero(g.bcastKey[:])
	g.bcastKey = key
	g.bcastSeq.Reset()
	if g.nodes != nil {
		g.nodes.IterateActive(func(n *Node) {
			n.broadcastKeySent = false
			n.bcastCounter.Reset()
			g.sendBroadcastKey(n)
		})
	}
	return nil
}

// RotateBroadcastKey is the administrative entry point for epoch rotation.
func (g *Gateway) RotateBroadcastKey() error {
	return g.rotateBroadcastKey()
}

// KickNode forcibly unregisters a peer.
func (g *Gateway) KickNode(addr espnow.Addr) error {
	node := g.nodes.FindByAddr(addr)
	if node == nil {
		return oops.Errorf("unknown node %s", addr)
	}
	g.invalidateSession(node, wire.ReasonKicked)
	return nil
}

// sendInvalidate answers a stranger or a broken session without assuming any
// shared session key.
func (g *Gateway) sendInvalidate(dst espnow.Addr, reason wire.InvalidateReason) {
	frame, err := buildInvalidateKey(g.netKey, reason)
	if err != nil {
		log.WithError(err).Error("building invalidate frame")
		return
	}
	if err := g.bind.Send(dst, frame); err != nil {
		log.WithError(err).WithField("dst", dst).Debug("invalidate send failed")
	}
}

// invalidateSession tears a session down: notify the peer, zero the keys,
// keep the record so the next epoch's key_id still increments.
func (g *Gateway) invalidateSession(node *Node, reason wire.InvalidateReason) {
	log.WithField("src", node.addr).WithField("reason", reason).Info("invalidating session")
	g.sendInvalidate(node.addr, reason)
	node.clearSession()
	if g.callbacks.NodeDisconnected != nil {
		g.callbacks.NodeDisconnected(node.addr, reason)
	}
}

// flushPending delivers queued downstream frames while the peer is awake.
func (g *Gateway) flushPending(node *Node, now time.Time) {
	for _, frame := range node.takePending(now) {
		if err := g.bind.Send(node.addr, frame); err != nil {
			log.WithError(err).WithField("dst", node.addr).Warn("pending downstream send failed")
		}
	}
}

// maintenance expires sessions, evicts idle peers, ages pending queues and
// paces the HA discovery dispatch.
func (g *Gateway) maintenance() {
	now := g.now()

	var expired []*Node
	g.nodes.IterateActive(func(n *Node) {
		if n.expired(now) {
			expired = append(expired, n)
		}
		n.dropStalePending(now)
	})
	for _, n := range expired {
		n.status = KeyExpired
		g.invalidateSession(n, wire.ReasonKeyExpired)
	}

	for _, n := range g.nodes.EvictIdle(now) {
		log.WithField("src", n.addr).Info("evicting idle node")
		if g.callbacks.NodeDisconnected != nil {
			g.callbacks.NodeDisconnected(n.addr, wire.ReasonKeyExpired)
		}
	}

	g.ha.dispatch(now, func(topic string, payload []byte) {
		if g.callbacks.HADiscovery != nil {
			g.callbacks.HADiscovery(topic, payload)
		}
	})
}

// broadcastNoncePrefix derives the nonce prefix of broadcast frames from the
// sender address. All broadcast-key holders stamp the same direction and
// independent counters, so the prefix is what keeps two senders' nonces
// apart.
func broadcastNoncePrefix(src espnow.Addr) [4]byte {
	return [4]byte{src[2], src[3], src[4], src[5]}
}

/* Statistics accessors */

// Node returns the session record for an address, or nil.
func (g *Gateway) Node(addr espnow.Addr) *Node {
	return g.nodes.FindByAddr(addr)
}

// NodeByName returns the session record claiming a name, or nil.
func (g *Gateway) NodeByName(name string) *Node {
	return g.nodes.FindByName(name)
}

// ActiveNodes returns the number of registered peers.
func (g *Gateway) ActiveNodes() int {
	return g.nodes.CountActive()
}

// DroppedFrames reports receive-ring drops (both areas full).
func (g *Gateway) DroppedFrames() uint32 {
	return g.input.Dropped()
}

// BroadcastEpoch returns the current broadcast key epoch.
func (g *Gateway) BroadcastEpoch() byte {
	return g.bcastEpoch
}
