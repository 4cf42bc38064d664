package wire

import (
	"encoding/binary"

	"github.com/samber/oops"

	"github.com/enigmaiot/enigmaiot/espnow"
)

var errMessageLenMismatch = oops.Wrapf(ErrBadFrame, "message length mismatch")

// ClientHelloMsg opens a handshake: the node's ephemeral public key, its half
// of the KDF salt, and an HMAC under the network key proving membership.
type ClientHelloMsg struct {
	PublicKey [KeySize]byte
	IV        [IVSize]byte
	MAC       [MACSize]byte
}

func (m *ClientHelloMsg) Marshal(b []byte) error {
	if len(b) != ClientHelloSize {
		return errMessageLenMismatch
	}
	b[0] = byte(ClientHello)
	copy(b[TagSize:], m.PublicKey[:])
	copy(b[TagSize+KeySize:], m.IV[:])
	copy(b[TagSize+KeySize+IVSize:], m.MAC[:])
	return nil
}

func (m *ClientHelloMsg) Unmarshal(b []byte) error {
	if len(b) != ClientHelloSize || MessageType(b[0]) != ClientHello {
		return errMessageLenMismatch
	}
	copy(m.PublicKey[:], b[TagSize:])
	copy(m.IV[:], b[TagSize+KeySize:])
	copy(m.MAC[:], b[TagSize+KeySize+IVSize:])
	return nil
}

// ServerHelloMsg answers a ClientHello with the gateway's ephemeral public
// key, its half of the KDF salt, and the key epoch assigned to the session.
type ServerHelloMsg struct {
	PublicKey [KeySize]byte
	IV        [IVSize]byte
	KeyID     byte
	MAC       [MACSize]byte
}

func (m *ServerHelloMsg) Marshal(b []byte) error {
	if len(b) != ServerHelloSize {
		return errMessageLenMismatch
	}
	b[0] = byte(ServerHello)
	copy(b[TagSize:], m.PublicKey[:])
	copy(b[TagSize+KeySize:], m.IV[:])
	b[TagSize+KeySize+IVSize] = m.KeyID
	copy(b[TagSize+KeySize+IVSize+1:], m.MAC[:])
	return nil
}

func (m *ServerHelloMsg) Unmarshal(b []byte) error {
	if len(b) != ServerHelloSize || MessageType(b[0]) != ServerHello {
		return errMessageLenMismatch
	}
	copy(m.PublicKey[:], b[TagSize:])
	copy(m.IV[:], b[TagSize+KeySize:])
	m.KeyID = b[TagSize+KeySize+IVSize]
	copy(m.MAC[:], b[TagSize+KeySize+IVSize+1:])
	return nil
}

// InvalidateKeyMsg tears a session down. Sent in the clear, authenticated
// under the network key: the recipient may no longer hold the session key.
type InvalidateKeyMsg struct {
	Reason InvalidateReason
	MAC    [MACSize]byte
}

func (m *InvalidateKeyMsg) Marshal(b []byte) error {
	if len(b) != InvalidateKeySize {
		return errMessageLenMismatch
	}
	b[0] = byte(InvalidateKey)
	b[TagSize] = byte(m.Reason)
	copy(b[TagSize+1:], m.MAC[:])
	return nil
}

func (m *InvalidateKeyMsg) Unmarshal(b []byte) error {
	if len(b) != InvalidateKeySize || MessageType(b[0]) != InvalidateKey {
		return errMessageLenMismatch
	}
	m.Reason = InvalidateReason(b[TagSize])
	copy(m.MAC[:], b[TagSize+1:])
	return nil
}

// SecureMsg is the common envelope of every encrypted frame. Ciphertext
// includes the 16-byte AEAD tag.
type SecureMsg struct {
	Type       MessageType
	KeyID      byte
	Counter    uint16
	Nonce      [NonceSize]byte
	Ciphertext []byte
}

func (m *SecureMsg) Size() int {
	return SecureHeaderSize + len(m.Ciphertext)
}

func (m *SecureMsg) Marshal(b []byte) error {
	if len(b) != m.Size() || len(b) > espnow.MTU {
		return errMessageLenMismatch
	}
	b[0] = byte(m.Type)
	b[TagSize] = m.KeyID
	binary.LittleEndian.PutUint16(b[TagSize+1:], m.Counter)
	copy(b[TagSize+3:], m.Nonce[:])
	copy(b[SecureHeaderSize:], m.Ciphertext)
	return nil
}

// Unmarshal parses the envelope. The ciphertext aliases b; callers that keep
// the message around must own the buffer.
func (m *SecureMsg) Unmarshal(b []byte) error {
	if len(b) < SecureHeaderSize+AEADTag || len(b) > espnow.MTU {
		return errMessageLenMismatch
	}
	if !IsSecure(MessageType(b[0])) {
		return oops.Wrapf(ErrBadFrame, "type %#02x is not an encrypted frame", b[0])
	}
	m.Type = MessageType(b[0])
	m.KeyID = b[TagSize]
	m.Counter = binary.LittleEndian.Uint16(b[TagSize+1:])
	copy(m.Nonce[:], b[TagSize+3:])
	m.Ciphertext = b[SecureHeaderSize:]
	return nil
}

// UnencryptedDataMsg carries plaintext sensor payloads for deployments that
// accept the loss of confidentiality; the counter still applies.
type UnencryptedDataMsg struct {
	Counter uint16
	Payload []byte
}

func (m *UnencryptedDataMsg) Size() int {
	return UnencryptedHeaderSize + len(m.Payload)
}

func (m *UnencryptedDataMsg) Marshal(b []byte) error {
	if len(b) != m.Size() || len(b) > espnow.MTU {
		return errMessageLenMismatch
	}
	b[0] = byte(UnencryptedNodeData)
	binary.LittleEndian.PutUint16(b[TagSize:], m.Counter)
	copy(b[UnencryptedHeaderSize:], m.Payload)
	return nil
}

func (m *UnencryptedDataMsg) Unmarshal(b []byte) error {
	if len(b) < UnencryptedHeaderSize || len(b) > espnow.MTU ||
		MessageType(b[0]) != UnencryptedNodeData {
		return errMessageLenMismatch
	}
	m.Counter = binary.LittleEndian.Uint16(b[TagSize:])
	m.Payload = b[UnencryptedHeaderSize:]
	return nil
}

// Plaintext payload shapes carried inside the secure envelope.

// ClockRequestPayload and ClockResponsePayload carry microsecond timestamps
// for the SNTP-style offset exchange.
type ClockRequestPayload struct {
	T1 uint64
}

func (p *ClockRequestPayload) Marshal() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, p.T1)
	return b
}

func (p *ClockRequestPayload) Unmarshal(b []byte) error {
	if len(b) != 8 {
		return errMessageLenMismatch
	}
	p.T1 = binary.LittleEndian.Uint64(b)
	return nil
}

type ClockResponsePayload struct {
	T1, T2, T3 uint64
}

func (p *ClockResponsePayload) Marshal() []byte {
	b := make([]byte, 24)
	binary.LittleEndian.PutUint64(b, p.T1)
	binary.LittleEndian.PutUint64(b[8:], p.T2)
	binary.LittleEndian.PutUint64(b[16:], p.T3)
	return b
}

func (p *ClockResponsePayload) Unmarshal(b []byte) error {
	if len(b) != 24 {
		return errMessageLenMismatch
	}
	p.T1 = binary.LittleEndian.Uint64(b)
	p.T2 = binary.LittleEndian.Uint64(b[8:])
	p.T3 = binary.LittleEndian.Uint64(b[16:])
	return nil
}

// BroadcastKeyPayload is the plaintext of BROADCAST_KEY_RESPONSE.
type BroadcastKeyPayload struct {
	Epoch byte
	Key   [KeySize]byte
}

func (p *BroadcastKeyPayload) Marshal() []byte {
	b := make([]byte, 1+KeySize)
	b[0] = p.Epoch
	copy(b[1:], p.Key[:])
	return b
}

func (p *BroadcastKeyPayload) Unmarshal(b []byte) error {
	if len(b) != 1+KeySize {
		return errMessageLenMismatch
	}
	p.Epoch = b[0]
	copy(p.Key[:], b[1:])
	return nil
}

// AAD builds the additional authenticated data binding a secure frame to its
// type, endpoints, epoch and counter so frames cannot be replayed across
// contexts: tag(1) ‖ src(6) ‖ dst(6) ‖ key_id(1) ‖ ctr(2).
func AAD(t MessageType, src, dst espnow.Addr, keyID byte, counter uint16) []byte {
	b := make([]byte, 0, 16)
	b = append(b, byte(t))
	b = append(b, src[:]...)
	b = append(b, dst[:]...)
	b = append(b, keyID)
	b = binary.LittleEndian.AppendUint16(b, counter)
	return b
}

// BuildNonce lays out the 12-byte AEAD nonce:
// prefix(4) ‖ key_id(1) ‖ direction(1) ‖ ctr(2, LE) ‖ zero(4).
// Uniqueness per (key, direction, counter) holds regardless of prefix.
func BuildNonce(prefix [4]byte, keyID byte, dir Direction, counter uint16) [NonceSize]byte {
	var n [NonceSize]byte
	copy(n[:4], prefix[:])
	n[4] = keyID
	n[5] = byte(dir)
	binary.LittleEndian.PutUint16(n[6:], counter)
	return n
}

// CheckNonce verifies that a received nonce is consistent with the envelope
// header and the expected direction.
func CheckNonce(n [NonceSize]byte, keyID byte, dir Direction, counter uint16) bool {
	return n[4] == keyID &&
		n[5] == byte(dir) &&
		binary.LittleEndian.Uint16(n[6:]) == counter &&
		n[8] == 0 && n[9] == 0 && n[10] == 0 && n[11] == 0
}
