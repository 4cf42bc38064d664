// Package wire defines the on-air frames of the EnigmaIOT link protocol and
// their codec. Every frame starts with a 1-byte type tag; all multi-byte
// integers are little-endian.
package wire

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/enigmaiot/enigmaiot/espnow"
)

// MessageType is the leading tag byte of every frame.
type MessageType byte

const (
	SensorData                  MessageType = 0x01
	DownstreamDataSet           MessageType = 0x02
	ControlData                 MessageType = 0x03
	DownstreamCtrlData          MessageType = 0x04
	ClockRequest                MessageType = 0x05
	ClockResponse               MessageType = 0x06
	NodeNameSet                 MessageType = 0x07
	HADiscoveryMessage          MessageType = 0x08
	BroadcastKeyRequest         MessageType = 0x09
	UnencryptedNodeData         MessageType = 0x11
	DownstreamDataGet           MessageType = 0x12
	NodeNameResult              MessageType = 0x17
	BroadcastKeyResponse        MessageType = 0x18
	SensorBroadcastData         MessageType = 0x81
	DownstreamBroadcastDataSet  MessageType = 0x82
	DownstreamBroadcastCtrlData MessageType = 0x84
	DownstreamBroadcastDataGet  MessageType = 0x92
	InvalidateKey               MessageType = 0xFB
	ServerHello                 MessageType = 0xFE
	ClientHello                 MessageType = 0xFF
)

func (t MessageType) String() string {
	switch t {
	case SensorData:
		return "SENSOR_DATA"
	case DownstreamDataSet:
		return "DOWNSTREAM_DATA_SET"
	case ControlData:
		return "CONTROL_DATA"
	case DownstreamCtrlData:
		return "DOWNSTREAM_CTRL_DATA"
	case ClockRequest:
		return "CLOCK_REQUEST"
	case ClockResponse:
		return "CLOCK_RESPONSE"
	case NodeNameSet:
		return "NODE_NAME_SET"
	case HADiscoveryMessage:
		return "HA_DISCOVERY_MESSAGE"
	case BroadcastKeyRequest:
		return "BROADCAST_KEY_REQUEST"
	case UnencryptedNodeData:
		return "UNENCRYPTED_NODE_DATA"
	case DownstreamDataGet:
		return "DOWNSTREAM_DATA_GET"
	case NodeNameResult:
		return "NODE_NAME_RESULT"
	case BroadcastKeyResponse:
		return "BROADCAST_KEY_RESPONSE"
	case SensorBroadcastData:
		return "SENSOR_BRCAST_DATA"
	case DownstreamBroadcastDataSet:
		return "DOWNSTREAM_BRCAST_DATA_SET"
	case DownstreamBroadcastCtrlData:
		return "DOWNSTREAM_BRCAST_CTRL_DATA"
	case DownstreamBroadcastDataGet:
		return "DOWNSTREAM_BRCAST_DATA_GET"
	case InvalidateKey:
		return "INVALIDATE_KEY"
	case ServerHello:
		return "SERVER_HELLO"
	case ClientHello:
		return "CLIENT_HELLO"
	default:
		return "UNKNOWN"
	}
}

// Direction identifies the keying scope of a secure frame and is bound into
// the AEAD nonce.
type Direction byte

const (
	DirectionUpstream   Direction = 0x00
	DirectionDownstream Direction = 0x01
	DirectionBroadcast  Direction = 0x02
)

// InvalidateReason is the 1-byte cause carried by INVALIDATE_KEY.
type InvalidateReason byte

const (
	ReasonUnknownError     InvalidateReason = 0x00
	ReasonWrongClientHello InvalidateReason = 0x01
	ReasonWrongData        InvalidateReason = 0x03
	ReasonUnregisteredNode InvalidateReason = 0x04
	ReasonKeyExpired       InvalidateReason = 0x05
	ReasonKicked           InvalidateReason = 0x06
)

func (r InvalidateReason) String() string {
	switch r {
	case ReasonUnknownError:
		return "UNKNOWN_ERROR"
	case ReasonWrongClientHello:
		return "WRONG_CLIENT_HELLO"
	case ReasonWrongData:
		return "WRONG_DATA"
	case ReasonUnregisteredNode:
		return "UNREGISTERED_NODE"
	case ReasonKeyExpired:
		return "KEY_EXPIRED"
	case ReasonKicked:
		return "KICKED"
	default:
		return "UNKNOWN"
	}
}

// PayloadEncoding is the first plaintext byte of data frames, telling the
// upper layer how the rest of the payload is packed.
type PayloadEncoding byte

const (
	EncodingRaw        PayloadEncoding = 0x00
	EncodingCayenneLPP PayloadEncoding = 0x81
	EncodingProtobuf   PayloadEncoding = 0x82
	EncodingMsgPack    PayloadEncoding = 0x83
	EncodingBSON       PayloadEncoding = 0x84
	EncodingCBOR       PayloadEncoding = 0x85
	EncodingSmile      PayloadEncoding = 0x86
	EncodingEnigmaIOT  PayloadEncoding = 0xFF
)

// ControlType is the first plaintext byte of CONTROL_DATA frames.
type ControlType byte

const (
	CtrlVersion        ControlType = 0x01
	CtrlSleepGet       ControlType = 0x02
	CtrlSleepSet       ControlType = 0x03
	CtrlOTA            ControlType = 0x04
	CtrlRestartNode    ControlType = 0x05
	CtrlRestartGateway ControlType = 0x06
)

// NodeNameResultCode is the signed status byte of NODE_NAME_RESULT.
type NodeNameResultCode int8

const (
	NameOK          NodeNameResultCode = 0
	NameTaken       NodeNameResultCode = -1
	NameTooLong     NodeNameResultCode = -2
	NameEmpty       NodeNameResultCode = -3
	NameEncodeError NodeNameResultCode = -4
)

const (
	TagSize    = 1
	KeySize    = 32
	IVSize     = 12
	MACSize    = 32
	NonceSize  = chacha20poly1305.NonceSize
	AEADTag    = chacha20poly1305.Overhead
	MaxNameLen = 32

	ClientHelloSize   = TagSize + KeySize + IVSize + MACSize
	ServerHelloSize   = TagSize + KeySize + IVSize + 1 + MACSize
	InvalidateKeySize = TagSize + 1 + MACSize

	// Secure envelope: tag(1) ‖ key_id(1) ‖ ctr(2) ‖ nonce(12) ‖ ct ‖ tag16.
	SecureHeaderSize = TagSize + 1 + 2 + NonceSize
	SecureOverhead   = SecureHeaderSize + AEADTag
	MaxPlaintextSize = espnow.MTU - SecureOverhead

	UnencryptedHeaderSize = TagSize + 2
)

var (
	ErrBadFrame   = errors.New("malformed frame")
	ErrUnknownTag = errors.New("unknown message type")
	ErrTooShort   = errors.New("frame too short")
	ErrOverMTU    = errors.New("frame exceeds MTU")
)

// Classify validates the outer shape of a raw frame and returns its type.
func Classify(frame []byte) (MessageType, error) {
	if len(frame) < TagSize {
		return 0, ErrTooShort
	}
	if len(frame) > espnow.MTU {
		return 0, ErrOverMTU
	}
	t := MessageType(frame[0])
	switch t {
	case SensorData, DownstreamDataSet, ControlData, DownstreamCtrlData,
		ClockRequest, ClockResponse, NodeNameSet, HADiscoveryMessage,
		BroadcastKeyRequest, UnencryptedNodeData, DownstreamDataGet,
		NodeNameResult, BroadcastKeyResponse, SensorBroadcastData,
		DownstreamBroadcastDataSet, DownstreamBroadcastCtrlData,
		DownstreamBroadcastDataGet, InvalidateKey, ServerHello, ClientHello:
		return t, nil
	}
	return 0, ErrUnknownTag
}

// DirectionOf returns the keying scope a secure frame of this type uses.
func DirectionOf(t MessageType) Direction {
	switch t {
	case SensorBroadcastData, DownstreamBroadcastDataSet,
		DownstreamBroadcastCtrlData, DownstreamBroadcastDataGet:
		return DirectionBroadcast
	case SensorData, ControlData, ClockRequest, NodeNameSet,
		HADiscoveryMessage, BroadcastKeyRequest, UnencryptedNodeData:
		return DirectionUpstream
	default:
		return DirectionDownstream
	}
}

// IsSecure reports whether frames of this type use the encrypted envelope.
func IsSecure(t MessageType) bool {
	switch t {
	case ClientHello, ServerHello, InvalidateKey, UnencryptedNodeData:
		return false
	}
	return true
}

// IsControl reports whether the payload is protocol control data rather than
// application sensor data.
func IsControl(t MessageType) bool {
	switch t {
	case ControlData, DownstreamCtrlData, DownstreamBroadcastCtrlData:
		return true
	}
	return false
}
