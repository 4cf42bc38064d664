package device

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/samber/oops"

	"github.com/enigmaiot/enigmaiot/espnow"
	"github.com/enigmaiot/enigmaiot/wire"
)

const (
	PublicKeySize  = 32
	PrivateKeySize = 32
	SessionKeySize = chacha20poly1305.KeySize
	NetworkKeySize = 32
)

type (
	PublicKey  [PublicKeySize]byte
	PrivateKey [PrivateKeySize]byte
	SessionKey [SessionKeySize]byte
	NetworkKey [NetworkKeySize]byte
)

// KDF domain-separation labels.
const (
	kdfLabelSession   = "EIoT-session"
	kdfLabelBroadcast = "EIoT-bcast"
)

var (
	ErrAuthFailed       = oops.Errorf("message authentication failed")
	ErrInvalidPublicKey = oops.Errorf("invalid public key")
)

func setZero(arr []byte) {
	for i := range arr {
		arr[i] = 0
	}
}

func isZero(val []byte) bool {
	acc := 1
	for _, b := range val {
		acc &= subtle.ConstantTimeByteEq(b, 0)
	}
	return acc == 1
}

// Curve25519 private keys must be clamped before use.
func (key *PrivateKey) clamp() {
	key[0] &= 248
	key[31] = (key[31] & 127) | 64
}

func newPrivateKey() (PrivateKey, error) {
	var key PrivateKey
	_, err := rand.Read(key[:])
	key.clamp()
	return key, err
}

func (priv *PrivateKey) publicKey() PublicKey {
	var pub PublicKey
	privBytes := (*[PrivateKeySize]byte)(priv)
	pubBytes := (*[PublicKeySize]byte)(&pub)
	curve25519.ScalarBaseMult(pubBytes, privBytes)
	return pub
}

func (priv *PrivateKey) sharedSecret(pub PublicKey) ([PublicKeySize]byte, error) {
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return [PublicKeySize]byte{}, ErrInvalidPublicKey
	}
	return [PublicKeySize]byte(shared), nil
}

// HashNetworkKey turns the configured passphrase into the fixed-size network
// key used to authenticate handshakes.
func HashNetworkKey(passphrase string) NetworkKey {
	return blake2s.Sum256([]byte(passphrase))
}

// helloMAC computes the HMAC-SHA256 carried by handshake and invalidate
// frames, keyed with the network key over tag ‖ parts.
func helloMAC(netKey NetworkKey, tag wire.MessageType, parts ...[]byte) [wire.MACSize]byte {
	mac := hmac.New(sha256.New, netKey[:])
	mac.Write([]byte{byte(tag)})
	for _, p := range parts {
		mac.Write(p)
	}
	var sum [wire.MACSize]byte
	mac.Sum(sum[:0])
	return sum
}

func verifyHelloMAC(netKey NetworkKey, got [wire.MACSize]byte, tag wire.MessageType, parts ...[]byte) bool {
	want := helloMAC(netKey, tag, parts...)
	return hmac.Equal(got[:], want[:])
}

// deriveSessionKey derives the per-pair AEAD key from the DH shared secret
// and both sides' handshake IVs.
func deriveSessionKey(shared [PublicKeySize]byte, ivNode, ivGateway [wire.IVSize]byte) (SessionKey, error) {
	salt := make([]byte, 0, 2*wire.IVSize)
	salt = append(salt, ivNode[:]...)
	salt = append(salt, ivGateway[:]...)
	r := hkdf.New(sha256.New, shared[:], salt, []byte(kdfLabelSession))
	var key SessionKey
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return SessionKey{}, oops.Errorf("deriving session key: %w", err)
	}
	return key, nil
}

// deriveBroadcastKey derives the one-to-many downstream key for an epoch from
// the gateway's master secret.
func deriveBroadcastKey(master [SessionKeySize]byte, epoch byte) (SessionKey, error) {
	r := hkdf.New(sha256.New, master[:], []byte{epoch}, []byte(kdfLabelBroadcast))
	var key SessionKey
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return SessionKey{}, oops.Errorf("deriving broadcast key: %w", err)
	}
	return key, nil
}

// sealFrame builds a complete secure frame: envelope header, AEAD ciphertext
// and tag.
func sealFrame(key SessionKey, t wire.MessageType, src, dst espnow.Addr,
	keyID byte, counter uint16, noncePrefix [4]byte, plaintext []byte) ([]byte, error) {

	if len(plaintext) > wire.MaxPlaintextSize {
		return nil, oops.Errorf("plaintext of %d bytes exceeds frame capacity", len(plaintext))
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, oops.Errorf("creating cipher: %w", err)
	}
	nonce := wire.BuildNonce(noncePrefix, keyID, wire.DirectionOf(t), counter)
	aad := wire.AAD(t, src, dst, keyID, counter)
	msg := wire.SecureMsg{
		Type:       t,
		KeyID:      keyID,
		Counter:    counter,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce[:], plaintext, aad),
	}
	buf := make([]byte, msg.Size())
	if err := msg.Marshal(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// openFrame authenticates and decrypts a parsed secure frame. The caller has
// already checked key epoch and counter; this binds them cryptographically.
func openFrame(key SessionKey, msg *wire.SecureMsg, src, dst espnow.Addr) ([]byte, error) {
	if !wire.CheckNonce(msg.Nonce, msg.KeyID, wire.DirectionOf(msg.Type), msg.Counter) {
		return nil, ErrAuthFailed
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, oops.Errorf("creating cipher: %w", err)
	}
	aad := wire.AAD(msg.Type, src, dst, msg.KeyID, msg.Counter)
	plaintext, err := aead.Open(nil, msg.Nonce[:], msg.Ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func randomIV() ([wire.IVSize]byte, error) {
	var iv [wire.IVSize]byte
	_, err := rand.Read(iv[:])
	return iv, err
}
