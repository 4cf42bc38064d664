package device

import (
	"github.com/enigmaiot/enigmaiot/wire"
)

// Handshake frame construction and verification, shared by both roles. The
// exchange is a single round trip: the node offers an ephemeral curve25519
// public key and its half of the KDF salt; the gateway answers in kind and
// pins the new key epoch. Both hellos are authenticated with an HMAC under
// the pre-shared network key, which keeps strangers out without identifying
// individual nodes.

func buildClientHello(netKey NetworkKey, pub PublicKey, iv [wire.IVSize]byte) ([]byte, error) {
	msg := wire.ClientHelloMsg{PublicKey: pub, IV: iv}
	msg.MAC = helloMAC(netKey, wire.ClientHello, pub[:], iv[:])
	buf := make([]byte, wire.ClientHelloSize)
	if err := msg.Marshal(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func verifyClientHello(netKey NetworkKey, raw []byte) (*wire.ClientHelloMsg, error) {
	var msg wire.ClientHelloMsg
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	if !verifyHelloMAC(netKey, msg.MAC, wire.ClientHello, msg.PublicKey[:], msg.IV[:]) {
		return nil, ErrAuthFailed
	}
	if isZero(msg.PublicKey[:]) {
		return nil, ErrInvalidPublicKey
	}
	return &msg, nil
}

func buildServerHello(netKey NetworkKey, pub PublicKey, iv [wire.IVSize]byte, keyID byte) ([]byte, error) {
	msg := wire.ServerHelloMsg{PublicKey: pub, IV: iv, KeyID: keyID}
	msg.MAC = helloMAC(netKey, wire.ServerHello, pub[:], iv[:], []byte{keyID})
	buf := make([]byte, wire.ServerHelloSize)
	if err := msg.Marshal(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func verifyServerHello(netKey NetworkKey, raw []byte) (*wire.ServerHelloMsg, error) {
	var msg wire.ServerHelloMsg
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	if !verifyHelloMAC(netKey, msg.MAC, wire.ServerHello, msg.PublicKey[:], msg.IV[:], []byte{msg.KeyID}) {
		return nil, ErrAuthFailed
	}
	if isZero(msg.PublicKey[:]) {
		return nil, ErrInvalidPublicKey
	}
	return &msg, nil
}

// buildInvalidateKey is sent in the clear: the recipient may have lost or
// expired the session key, so only the network key can authenticate it.
func buildInvalidateKey(netKey NetworkKey, reason wire.InvalidateReason) ([]byte, error) {
	msg := wire.InvalidateKeyMsg{Reason: reason}
	msg.MAC = helloMAC(netKey, wire.InvalidateKey, []byte{byte(reason)})
	buf := make([]byte, wire.InvalidateKeySize)
	if err := msg.Marshal(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func verifyInvalidateKey(netKey NetworkKey, raw []byte) (*wire.InvalidateKeyMsg, error) {
	var msg wire.InvalidateKeyMsg
	if err := msg.Unmarshal(raw); err != nil {
		return nil, err
	}
	if !verifyHelloMAC(netKey, msg.MAC, wire.InvalidateKey, []byte{byte(msg.Reason)}) {
		return nil, ErrAuthFailed
	}
	return &msg, nil
}

// nonce prefixes are derived per session from the handshake IVs so both sides
// stamp the same prefix without carrying extra state.
func sessionNoncePrefix(ivNode, ivGateway [wire.IVSize]byte) [4]byte {
	var p [4]byte
	for i := 0; i < 4; i++ {
		p[i] = ivNode[i] ^ ivGateway[i]
	}
	return p
}
