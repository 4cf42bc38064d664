package device

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/enigmaiot/enigmaiot/clocksync"
	"github.com/enigmaiot/enigmaiot/espnow"
	"github.com/enigmaiot/enigmaiot/replay"
	"github.com/enigmaiot/enigmaiot/ringbuf"
	"github.com/enigmaiot/enigmaiot/wire"
)

// NodeCallbacks groups the hooks a node application may register.
type NodeCallbacks struct {
	// DataRx delivers downstream payloads.
	DataRx func(payload []byte, control bool, encoding wire.PayloadEncoding)
	// Connected fires when a handshake completes.
	Connected func()
	// Disconnected fires when the gateway invalidates the session.
	Disconnected func(reason wire.InvalidateReason)
	// ClockSync reports the result of a clock exchange.
	ClockSync func(offset, roundTrip time.Duration)
	// NameResult reports the gateway's answer to SetNodeName.
	NameResult func(code wire.NodeNameResultCode)
}

// NodeDeviceConfig configures a NodeDevice.
type NodeDeviceConfig struct {
	Bind        espnow.Bind
	GatewayAddr espnow.Addr
	NetworkKey  string
	NodeName    string
	Sleepy      bool
	SleepPeriod time.Duration
	UseCounter  *bool
	// CounterWindow is the acceptance window W; zero selects the default.
	CounterWindow uint16
	Clock         func() time.Time
}

// NodeDevice is the sensor-side runtime: one session against one gateway,
// the mirror half of the gateway's state machine.
type NodeDevice struct {
	bind    espnow.Bind
	addr    espnow.Addr
	gateway espnow.Addr
	netKey  NetworkKey

	useCounter bool
	window     uint16

	status       Status
	sessionKey   SessionKey
	keyID        byte
	noncePrefix  [4]byte
	upSeq        replay.Sequence
	downCounter  *replay.Counter
	lastActivity time.Time

	// handshake in flight
	ephPriv   PrivateKey
	helloIV   [wire.IVSize]byte
	helloSent time.Time

	// broadcast reception and transmission
	bcastKey      SessionKey
	bcastEpoch    byte
	haveBcastKey  bool
	bcastSeq      replay.Sequence
	bcastCounters map[espnow.Addr]*replay.Counter

	name        string
	pendingName string
	sleepy      bool
	sleepPeriod time.Duration

	// clock sync in flight
	clockT1     uint64
	clockOffset time.Duration
	clockRTT    time.Duration
	clockSynced bool

	packetsOK  uint32
	packetsErr uint32

	input     *ringbuf.Ring[frameItem]
	now       func() time.Time
	callbacks NodeCallbacks
}

// NewNodeDevice builds a node runtime. It does not touch the radio until
// Start.
func NewNodeDevice(cfg NodeDeviceConfig) (*NodeDevice, error) {
	if cfg.Bind == nil {
		return nil, oops.Errorf("node requires a radio bind")
	}
	if cfg.GatewayAddr.IsZero() || cfg.GatewayAddr.IsBroadcast() {
		return nil, oops.Errorf("node requires a unicast gateway address")
	}
	if cfg.NetworkKey == "" {
		return nil, oops.Errorf("node requires a network key")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	window := cfg.CounterWindow
	if window == 0 {
		window = CounterWindow
	}
	useCounter := true
	if cfg.UseCounter != nil {
		useCounter = *cfg.UseCounter
	}
	return &NodeDevice{
		bind:          cfg.Bind,
		addr:          cfg.Bind.Addr(),
		gateway:       cfg.GatewayAddr,
		netKey:        HashNetworkKey(cfg.NetworkKey),
		useCounter:    useCounter,
		window:        window,
		downCounter:   replay.NewCounter(window),
		bcastCounters: make(map[espnow.Addr]*replay.Counter),
		pendingName:   cfg.NodeName,
		sleepy:        cfg.Sleepy,
		sleepPeriod:   cfg.SleepPeriod,
		input:         ringbuf.NewWithOverflow[frameItem](InputQueueSize, InputOverflowSize),
		now:           clock,
	}, nil
}

// SetCallbacks registers the application hooks. Call before Start.
func (d *NodeDevice) SetCallbacks(cb NodeCallbacks) {
	d.callbacks = cb
}

// Start attaches the receive hook to the radio.
func (d *NodeDevice) Start() error {
	return d.bind.Open(d.radioReceive)
}

// Stop detaches from the radio and wipes the session.
func (d *NodeDevice) Stop() error {
	d.clearSession()
	return d.bind.Close()
}

func (d *NodeDevice) radioReceive(src espnow.Addr, payload []byte) {
	if len(payload) == 0 || len(payload) > espnow.MTU {
		return
	}
	// only the gateway and broadcasting peers talk to us
	var item frameItem
	item.src = src
	item.len = copy(item.data[:], payload)
	d.input.Push(item)
}

// Status returns the current session state.
func (d *NodeDevice) Status() Status { return d.status }

// Name returns the name acknowledged by the gateway, if any.
func (d *NodeDevice) Name() string { return d.name }

// ClockOffset returns the last synchronized offset and whether any clock
// exchange has completed.
func (d *NodeDevice) ClockOffset() (time.Duration, bool) {
	return d.clockOffset, d.clockSynced
}

// Register starts a handshake with the gateway. It completes asynchronously
// across Handle iterations.
func (d *NodeDevice) Register() error {
	priv, err := newPrivateKey()
	if err != nil {
		return oops.Errorf("generating ephemeral key: %w", err)
	}
	iv, err := randomIV()
	if err != nil {
		return oops.Errorf("generating handshake iv: %w", err)
	}
	d.status = InitPending
	d.ephPriv = priv
	d.helloIV = iv

	frame, err := buildClientHello(d.netKey, priv.publicKey(), iv)
	if err != nil {
		d.status = Unregistered
		return err
	}
	if err := d.bind.Send(d.gateway, frame); err != nil {
		d.status = Unregistered
		return oops.Errorf("sending client hello: %w", err)
	}
	d.helloSent = d.now()
	d.status = WaitingConfirmation
	log.WithField("gateway", d.gateway).Debug("client hello sent")
	return nil
}

// Handle drains the receive ring and runs timers. Call it from the
// application's main loop.
func (d *NodeDevice) Handle() {
	for {
		item, ok := d.input.Pop()
		if !ok {
			break
		}
		d.manageMessage(item.src, item.data[:item.len])
	}
	d.maintenance()
}

// Run drives Handle until the context is cancelled.
func (d *NodeDevice) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Handle()
		}
	}
}

func (d *NodeDevice) maintenance() {
	now := d.now()
	if d.status == WaitingConfirmation && now.Sub(d.helloSent) > HandshakeTimeout {
		log.Warn("handshake timed out")
		d.status = Unregistered
		setZero(d.ephPriv[:])
	}
	if d.status == Registered && now.Sub(d.lastActivity) > MaxKeyValidity {
		log.Info("session key expired, renegotiating")
		d.status = KeyExpired
		d.clearSession()
		if err := d.Register(); err != nil {
			log.WithError(err).Warn("re-registration failed")
		}
	}
}

func (d *NodeDevice) manageMessage(src espnow.Addr, raw []byte) {
	t, err := wire.Classify(raw)
	if err != nil {
		log.WithError(err).Debug("dropping malformed frame")
		return
	}
	switch t {
	case wire.ServerHello:
		if src == d.gateway {
			d.processServerHello(raw)
		}
	case wire.InvalidateKey:
		if src == d.gateway {
			d.processInvalidateKey(raw)
		}
	case wire.DownstreamDataSet, wire.DownstreamDataGet, wire.DownstreamCtrlData,
		wire.ClockResponse, wire.NodeNameResult, wire.BroadcastKeyResponse:
		if src == d.gateway {
			d.processDownstream(raw, t)
		}
	case wire.DownstreamBroadcastDataSet, wire.DownstreamBroadcastDataGet,
		wire.DownstreamBroadcastCtrlData, wire.SensorBroadcastData:
		d.processBroadcast(src, raw, t)
	}
}

// processServerHello completes the handshake: derive the session key from
// the gateway's ephemeral key and both IVs, adopt the assigned epoch.
func (d *NodeDevice) processServerHello(raw []byte) {
	if d.status != WaitingConfirmation {
		log.WithField("status", d.status).Debug("unexpected server hello")
		return
	}
	hello, err := verifyServerHello(d.netKey, raw)
	if err != nil {
		log.WithError(err).Info("invalid server hello")
		d.packetsErr++
		return
	}
	shared, err := d.ephPriv.sharedSecret(PublicKey(hello.PublicKey))
	if err != nil {
		log.WithError(err).Info("rejecting server hello")
		d.packetsErr++
		return
	}
	key, err := deriveSessionKey(shared, d.helloIV, hello.IV)
	setZero(shared[:])
	setZero(d.ephPriv[:])
	if err != nil {
		log.WithError(err).Error("deriving session key")
		return
	}

	setZero(d.sessionKey[:])
	d.sessionKey = key
	d.keyID = hello.KeyID
	d.noncePrefix = sessionNoncePrefix(d.helloIV, hello.IV)
	d.upSeq.Reset()
	d.downCounter.Reset()
	d.status = Registered
	d.lastActivity = d.now()
	log.WithField("key_id", d.keyID).Info("registered with gateway")

	if d.callbacks.Connected != nil {
		d.callbacks.Connected()
	}
	if d.sleepy {
		d.announceSleepPeriod()
	}
	if d.pendingName != "" && d.pendingName != d.name {
		if err := d.SetNodeName(d.pendingName); err != nil {
			log.WithError(err).Warn("announcing node name")
		}
	}
}

func (d *NodeDevice) processInvalidateKey(raw []byte) {
	msg, err := verifyInvalidateKey(d.netKey, raw)
	if err != nil {
		log.WithError(err).Debug("dropping unauthenticated invalidate")
		return
	}
	log.WithField("reason", msg.Reason).Info("session invalidated by gateway")
	d.clearSession()
	if d.callbacks.Disconnected != nil {
		d.callbacks.Disconnected(msg.Reason)
	}
	// the gateway wants a fresh handshake before any further data
	if err := d.Register(); err != nil {
		log.WithError(err).Warn("re-registration failed")
	}
}

func (d *NodeDevice) processDownstream(raw []byte, t wire.MessageType) {
	if d.status != Registered {
		return
	}
	var msg wire.SecureMsg
	if err := msg.Unmarshal(raw); err != nil {
		d.packetsErr++
		return
	}
	if msg.KeyID != d.keyID {
		d.packetsErr++
		return
	}
	plaintext, err := openFrame(d.sessionKey, &msg, d.gateway, d.addr)
	if err != nil {
		d.packetsErr++
		log.Info("downstream decrypt failed")
		return
	}
	if d.useCounter {
		if _, ok := d.downCounter.Validate(msg.Counter); !ok {
			d.packetsErr++
			return
		}
	}
	d.packetsOK++
	d.lastActivity = d.now()

	switch t {
	case wire.DownstreamDataSet, wire.DownstreamDataGet, wire.DownstreamCtrlData:
		d.deliverDownstream(t, plaintext)
	case wire.ClockResponse:
		d.processClockResponse(plaintext)
	case wire.NodeNameResult:
		d.processNameResult(plaintext)
	case wire.BroadcastKeyResponse:
		d.processBroadcastKey(plaintext)
	}
}

func (d *NodeDevice) deliverDownstream(t wire.MessageType, plaintext []byte) {
	if len(plaintext) < 1 {
		d.packetsErr++
		return
	}
	if wire.IsControl(t) {
		if wire.ControlType(plaintext[0]) == wire.CtrlRestartNode {
			log.Info("restart requested by gateway")
		}
		if d.callbacks.DataRx != nil {
			d.callbacks.DataRx(plaintext, true, wire.EncodingEnigmaIOT)
		}
		return
	}
	if d.callbacks.DataRx != nil {
		d.callbacks.DataRx(plaintext[1:], false, wire.PayloadEncoding(plaintext[0]))
	}
}

func (d *NodeDevice) processClockResponse(plaintext []byte) {
	var resp wire.ClockResponsePayload
	if err := resp.Unmarshal(plaintext); err != nil {
		d.packetsErr++
		return
	}
	if d.clockT1 == 0 || resp.T1 != d.clockT1 {
		// response to a request we no longer remember
		return
	}
	t4 := clocksync.Micros(d.now())
	d.clockOffset = clocksync.Offset(resp.T1, resp.T2, resp.T3, t4)
	d.clockRTT = clocksync.RoundTrip(resp.T1, resp.T2, resp.T3, t4)
	d.clockSynced = true
	d.clockT1 = 0
	log.WithField("offset", d.clockOffset).WithField("rtt", d.clockRTT).Debug("clock synchronized")
	if d.callbacks.ClockSync != nil {
		d.callbacks.ClockSync(d.clockOffset, d.clockRTT)
	}
}

func (d *NodeDevice) processNameResult(plaintext []byte) {
	if len(plaintext) != 1 {
		d.packetsErr++
		return
	}
	code := wire.NodeNameResultCode(int8(plaintext[0]))
	if code == wire.NameOK {
		d.name = d.pendingName
		log.WithField("name", d.name).Info("node name accepted")
	} else {
		log.WithField("code", code).Info("node name rejected")
		d.pendingName = d.name
	}
	if d.callbacks.NameResult != nil {
		d.callbacks.NameResult(code)
	}
}

func (d *NodeDevice) processBroadcastKey(plaintext []byte) {
	var payload wire.BroadcastKeyPayload
	if err := payload.Unmarshal(plaintext); err != nil {
		d.packetsErr++
		return
	}
	setZero(d.bcastKey[:])
	d.bcastKey = payload.Key
	d.bcastEpoch = payload.Epoch
	d.haveBcastKey = true
	d.bcastSeq.Reset()
	d.bcastCounters = make(map[espnow.Addr]*replay.Counter)
	log.WithField("epoch", payload.Epoch).Debug("broadcast key installed")
}

// processBroadcast validates broadcast-keyed frames, keeping one replay
// window per sender.
func (d *NodeDevice) processBroadcast(src espnow.Addr, raw []byte, t wire.MessageType) {
	if !d.haveBcastKey {
		return
	}
	var msg wire.SecureMsg
	if err := msg.Unmarshal(raw); err != nil {
		d.packetsErr++
		return
	}
	if msg.KeyID != d.bcastEpoch {
		d.packetsErr++
		return
	}
	plaintext, err := openFrame(d.bcastKey, &msg, src, espnow.BroadcastAddr)
	if err != nil {
		d.packetsErr++
		return
	}
	if d.useCounter {
		counter, ok := d.bcastCounters[src]
		if !ok {
			counter = replay.NewCounter(d.window)
			d.bcastCounters[src] = counter
		}
		if _, ok := counter.Validate(msg.Counter); !ok {
			d.packetsErr++
			return
		}
	}
	d.packetsOK++
	if len(plaintext) < 1 {
		return
	}
	if d.callbacks.DataRx == nil {
		return
	}
	if wire.IsControl(t) {
		d.callbacks.DataRx(plaintext, true, wire.EncodingEnigmaIOT)
	} else {
		d.callbacks.DataRx(plaintext[1:], false, wire.PayloadEncoding(plaintext[0]))
	}
}

// sendSecure seals and transmits an upstream frame.
func (d *NodeDevice) sendSecure(t wire.MessageType, plaintext []byte) error {
	if d.status != Registered {
		return oops.Errorf("not registered")
	}
	counter := d.upSeq.Advance()
	frame, err := sealFrame(d.sessionKey, t, d.addr, d.gateway,
		d.keyID, counter, d.noncePrefix, plaintext)
	if err != nil {
		return err
	}
	if err := d.bind.Send(d.gateway, frame); err != nil {
		return oops.Errorf("upstream send failed: %w", err)
	}
	return nil
}

// SendData encrypts and transmits an application payload.
func (d *NodeDevice) SendData(payload []byte, encoding wire.PayloadEncoding) error {
	return d.sendSecure(wire.SensorData, append([]byte{byte(encoding)}, payload...))
}

// SendControl transmits an internal control message.
func (d *NodeDevice) SendControl(t wire.ControlType, data []byte) error {
	return d.sendSecure(wire.ControlData, append([]byte{byte(t)}, data...))
}

// SendUnencrypted transmits a plaintext payload; the counter still applies.
func (d *NodeDevice) SendUnencrypted(payload []byte, encoding wire.PayloadEncoding) error {
	if d.status != Registered {
		return oops.Errorf("not registered")
	}
	msg := wire.UnencryptedDataMsg{
		Counter: d.upSeq.Advance(),
		Payload: append([]byte{byte(encoding)}, payload...),
	}
	buf := make([]byte, msg.Size())
	if err := msg.Marshal(buf); err != nil {
		return err
	}
	return d.bind.Send(d.gateway, buf)
}

// SendBroadcastData transmits a payload to every broadcast-key holder.
func (d *NodeDevice) SendBroadcastData(payload []byte, encoding wire.PayloadEncoding) error {
	if !d.haveBcastKey {
		return oops.Errorf("no broadcast key")
	}
	counter := d.bcastSeq.Advance()
	frame, err := sealFrame(d.bcastKey, wire.SensorBroadcastData, d.addr,
		espnow.BroadcastAddr, d.bcastEpoch, counter, broadcastNoncePrefix(d.addr),
		append([]byte{byte(encoding)}, payload...))
	if err != nil {
		return err
	}
	return d.bind.Send(espnow.BroadcastAddr, frame)
}

// SendHADiscovery forwards a MsgPack entity description the gateway turns
// into a Home Assistant discovery message.
func (d *NodeDevice) SendHADiscovery(data []byte) error {
	return d.sendSecure(wire.HADiscoveryMessage, data)
}

// RequestClockSync starts a four-timestamp clock exchange.
func (d *NodeDevice) RequestClockSync() error {
	t1 := clocksync.Micros(d.now())
	req := wire.ClockRequestPayload{T1: t1}
	if err := d.sendSecure(wire.ClockRequest, req.Marshal()); err != nil {
		return err
	}
	d.clockT1 = t1
	return nil
}

// SetNodeName asks the gateway to claim a name for this node.
func (d *NodeDevice) SetNodeName(name string) error {
	if name == "" {
		return oops.Errorf("empty node name")
	}
	if len(name) > wire.MaxNameLen {
		return oops.Errorf("node name longer than %d bytes", wire.MaxNameLen)
	}
	if err := d.sendSecure(wire.NodeNameSet, []byte(name)); err != nil {
		return err
	}
	d.pendingName = name
	return nil
}

// RequestBroadcastKey asks for the current broadcast key explicitly; the
// gateway also pushes it right after registration.
func (d *NodeDevice) RequestBroadcastKey() error {
	return d.sendSecure(wire.BroadcastKeyRequest, nil)
}

// announceSleepPeriod tells the gateway this node deep-sleeps, so downstream
// traffic gets queued for its wake windows.
func (d *NodeDevice) announceSleepPeriod() {
	secs := uint32(d.sleepPeriod / time.Second)
	data := []byte{
		byte(secs), byte(secs >> 8), byte(secs >> 16), byte(secs >> 24),
	}
	if err := d.SendControl(wire.CtrlSleepSet, data); err != nil {
		log.WithError(err).Warn("announcing sleep period")
	}
}

func (d *NodeDevice) clearSession() {
	setZero(d.sessionKey[:])
	setZero(d.ephPriv[:])
	d.noncePrefix = [4]byte{}
	d.status = Unregistered
	d.upSeq.Reset()
	d.downCounter.Reset()
}
