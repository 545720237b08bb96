// Package cryptocore provides the endpoint's hybrid cryptographic
// primitives: an X25519 keypair for the handshake's key-wrap step, and
// XChaCha20-Poly1305 for authenticated encryption of application payloads
// once a session key has been derived. Session keys are generated per
// session and never persisted (SPEC_FULL.md §3's forward-secrecy note).
//
// Grounded on gossip.go's loadOrInitConfig/encryptForRecipients/
// decryptEvent and VinMeld-go-send's internal/crypto/crypto.go, both of
// which pair nacl/box with a ChaCha-family AEAD; generalized here from
// "one key wrapped to N recipients" to a single 1:1 session key with an
// explicit monotonic nonce counter instead of a random XChaCha nonce per
// message.
package cryptocore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"

	"github.com/p2pchat/p2pchat/internal/chaterr"
)

// MaxNonce is the last nonce value a session key may use. Exceeding it
// would require a session rekey, which this design does not support: the
// session must be closed and re-established instead (SPEC_FULL.md §4.2's
// "refusing to encrypt past the counter limit").
const MaxNonce = ^uint64(0) - 1

// Identity is the local endpoint's keypairs, generated fresh at
// construction and never written to disk: an X25519 pair for the session
// key exchange, and an ed25519 pair (grounded on gossip.go's
// signEvent/verifyEvent) used only to sign the handshake's public-key
// message so a receiver can detect in-transit tampering of the exchanged
// key before trusting it.
type Identity struct {
	Public  *[32]byte
	Private *[32]byte

	SigningPublic  ed25519.PublicKey
	SigningPrivate ed25519.PrivateKey
}

// GenerateIdentity creates a new X25519 keypair plus a new ed25519 signing
// keypair.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{Public: pub, Private: priv, SigningPublic: signPub, SigningPrivate: signPriv}, nil
}

// SignPublicKey signs the local X25519 public key with the local ed25519
// signing key, for attaching to the handshake's PublicKey message.
func (id *Identity) SignPublicKey() []byte {
	return ed25519.Sign(id.SigningPrivate, id.Public[:])
}

// VerifyPublicKey checks that sig is a valid ed25519 signature over pub
// under signingKey. Used to authenticate an inbound handshake PublicKey
// message before trusting it.
func VerifyPublicKey(signingKey, pub, sig []byte) bool {
	if len(signingKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(signingKey), pub, sig)
}

// Fingerprint renders a short, stable identifier for a public key so a user
// can compare it with their peer out of band (SPEC_FULL.md §6). It is a
// hex-encoded SHA-256 of the key, truncated to 16 characters.
func Fingerprint(pub *[32]byte) string {
	sum := sha256.Sum256(pub[:])
	return hex.EncodeToString(sum[:])[:16]
}

// State holds one session's crypto material. The session key, once set, is
// read concurrently by the reader and writer goroutines without locking
// (SPEC_FULL.md §5). The nonce counter is advanced by NextNonce without
// locking, on whichever goroutine seals an outbound message (the caller of
// session.Endpoint's SendText/SendFile), not on the writer goroutine.
type State struct {
	local   *Identity
	peer    *[32]byte
	session *[32]byte
	nonce   uint64
}

// NewState wraps a freshly generated identity for one session.
func NewState(local *Identity) *State {
	return &State{local: local}
}

// SetPeerPublic records the peer's X25519 public key, received as the
// handshake's PublicKey payload.
func (s *State) SetPeerPublic(pub *[32]byte) { s.peer = pub }

// PeerPublic returns the peer's public key, or nil if not yet received.
func (s *State) PeerPublic() *[32]byte { return s.peer }

// HasSessionKey reports whether a session key has been derived or accepted.
func (s *State) HasSessionKey() bool { return s.session != nil }

// DeriveSessionKey generates a fresh random session key. Called by the side
// designated to derive per SPEC_FULL.md §4.4's tie-break.
func DeriveSessionKey() (*[32]byte, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, err
	}
	return &key, nil
}

// SetSessionKey installs a session key, whether self-derived or unwrapped
// from the peer.
func (s *State) SetSessionKey(key *[32]byte) { s.session = key }

// WrapSessionKey box-seals key to the peer's public key using the local
// private key, for transmission as the second handshake message.
func (s *State) WrapSessionKey(key *[32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	sealed := box.Seal(nonce[:], key[:], &nonce, s.peer, s.local.Private)
	return sealed, nil
}

// UnwrapSessionKey opens a box sealed by WrapSessionKey.
func (s *State) UnwrapSessionKey(sealed []byte) (*[32]byte, error) {
	if len(sealed) < 24 {
		return nil, &chaterr.HandshakeFailed{Phase: "key-unwrap", Cause: errShortMessage}
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	opened, ok := box.Open(nil, sealed[24:], &nonce, s.peer, s.local.Private)
	if !ok {
		return nil, &chaterr.HandshakeFailed{Phase: "key-unwrap", Cause: errBoxOpenFailed}
	}
	var key [32]byte
	copy(key[:], opened)
	return &key, nil
}

// NextNonce returns the next nonce to use for an outbound encryption and
// advances the counter. It is an error to call this after the counter has
// saturated; callers must close the session instead of reusing a nonce.
func (s *State) NextNonce() (uint64, bool) {
	if s.nonce > MaxNonce {
		return 0, false
	}
	n := s.nonce
	s.nonce++
	return n, true
}

// nonceBytes renders a uint64 counter as the 24-byte XChaCha20 nonce the
// AEAD construction requires, zero-padded in the high bytes.
func nonceBytes(counter uint64) [24]byte {
	var nonce [24]byte
	binary.BigEndian.PutUint64(nonce[16:24], counter)
	return nonce
}

// Seal encrypts plaintext under the session key with associated data ad
// (SPEC_FULL.md §6: the frame header id||epoch||tag), using the given
// nonce counter value.
func (s *State) Seal(plaintext, ad []byte, counter uint64) ([24]byte, []byte, error) {
	aead, err := chacha20poly1305.NewX(s.session[:])
	if err != nil {
		return [24]byte{}, nil, err
	}
	nonce := nonceBytes(counter)
	ct := aead.Seal(nil, nonce[:], plaintext, ad)
	return nonce, ct, nil
}

// Open decrypts and authenticates ciphertext under the session key.
// Failure returns chaterr.AuthenticationFailed, never a raw AEAD error, so
// callers can transition the session to Draining without inspecting cause.
func (s *State) Open(nonce [24]byte, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.session[:])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, &chaterr.AuthenticationFailed{}
	}
	return pt, nil
}

var errShortMessage = simpleError("sealed key too short")
var errBoxOpenFailed = simpleError("box open failed")

type simpleError string

func (e simpleError) Error() string { return string(e) }
