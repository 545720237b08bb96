package session

import (
	"context"
	"time"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/cryptocore"
	"github.com/p2pchat/p2pchat/internal/message"
)

// runHandshake drives the key-exchange sub-protocol to a Ready or Closed
// outcome, then launches the heartbeat/retry/liveness timer for the
// lifetime of the session. It is grounded on spec.md §4.2's handshake
// description and §4.4's Handshaking{Asym}→Handshaking{Sym}→Ready table:
// our connection is always asymmetric with respect to who dialed (exactly
// one side accepted, the other dialed), so the "both sides dial" tie-break
// in spec.md does not arise for a single Endpoint's race outcome — the
// dialer always derives. See DESIGN.md for this Open Question resolution.
func (e *Endpoint) runHandshake(ctx context.Context) error {
	e.setState(Handshaking)
	e.phase = PhaseAsym

	if !e.cfg.EncryptionEnabled {
		e.enqueue(message.Message{
			ID:        e.freshID(),
			Timestamp: time.Now(),
			Kind:      message.Handshake{Variant: message.HandshakeNotSupported},
		})
		// Local policy does not require encryption; don't wait on the peer's
		// decision before becoming usable.
		e.transitionToReady(false)
		go e.runTimers(ctx)
		return nil
	}

	e.enqueue(message.Message{
		ID:        e.freshID(),
		Timestamp: time.Now(),
		Kind: message.Handshake{
			Variant:    message.HandshakePublicKey,
			Bytes:      e.identity.Public[:],
			SigningKey: e.identity.SigningPublic,
			Signature:  e.identity.SignPublicKey(),
		},
	})

	select {
	case <-e.readyCh:
		if e.State() == Closed {
			return e.handshakeOutcomeErr()
		}
		go e.runTimers(ctx)
		return nil
	case <-time.After(handshakeTimeout):
		return e.handshakeTimedOut()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Endpoint) handshakeOutcomeErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeErr
}

// handshakeTimedOut applies spec.md §4.2's failure policy: fall back to
// Ready{encrypted:false} if local policy allows it, else close with
// EncryptionRequired.
func (e *Endpoint) handshakeTimedOut() error {
	if s := e.State(); s == Draining || s == Closed {
		// The transport already failed out from under the handshake;
		// don't override that outcome with a policy fallback.
		return &chaterr.HandshakeFailed{Phase: "asym", Cause: errTransportFailedDuringHandshake}
	}
	if !e.cfg.EncryptionEnabled {
		e.transitionToReady(false)
		go e.runTimers(context.Background())
		return nil
	}
	err := &chaterr.EncryptionRequired{}
	e.closeWithErr(err)
	return err
}

func (e *Endpoint) closeWithErr(err error) {
	e.mu.Lock()
	e.closeErr = err
	e.mu.Unlock()
	e.setState(Closed)
	e.signalReadyOnce()
	e.closeOnce()
}

func (e *Endpoint) transitionToReady(encrypted bool) {
	e.setState(Ready)
	e.signalReadyOnce()
}

func (e *Endpoint) signalReadyOnce() {
	e.mu.Lock()
	already := e.decided
	e.decided = true
	e.mu.Unlock()
	if !already {
		close(e.readyCh)
	}
}

// onHandshake is the dispatcher's OnHandshake hook: it advances the
// handshake sub-protocol on receipt of each Handshake message.
func (e *Endpoint) onHandshake(h message.Handshake) {
	switch h.Variant {
	case message.HandshakePublicKey:
		e.handlePeerPublicKey(h.Bytes, h.SigningKey, h.Signature)
	case message.HandshakeKeyConfirmed:
		e.handleKeyConfirmed(h.Bytes)
	case message.HandshakeEncryptionReady:
		e.handlePeerEncryptionReady()
	case message.HandshakeNotSupported:
		e.handlePeerDeclinedEncryption()
	}
}

func (e *Endpoint) handlePeerPublicKey(bytes, signingKey, signature []byte) {
	if !e.cfg.EncryptionEnabled {
		// We already declared HandshakeNotSupported; the peer's key
		// exchange attempt is moot once policy has declined encryption.
		return
	}
	if len(bytes) != 32 {
		e.closeWithErr(&chaterr.HandshakeFailed{Phase: "public-key", Cause: errBadPublicKeyLength})
		return
	}
	if !cryptocore.VerifyPublicKey(signingKey, bytes, signature) {
		e.closeWithErr(&chaterr.HandshakeFailed{Phase: "public-key", Cause: errSignatureInvalid})
		return
	}
	var pub [32]byte
	copy(pub[:], bytes)
	e.crypto.SetPeerPublic(&pub)
	fp := cryptocore.Fingerprint(&pub)
	e.mu.Lock()
	e.phase = PhaseSym
	e.peer.PublicKeyFingerprint = &fp
	e.mu.Unlock()
	e.setState(Handshaking)

	if e.direction == DirectionDialer {
		e.deriveAndSendSessionKey()
	}
}

func (e *Endpoint) deriveAndSendSessionKey() {
	key, err := cryptocore.DeriveSessionKey()
	if err != nil {
		e.closeWithErr(&chaterr.HandshakeFailed{Phase: "derive", Cause: err})
		return
	}
	e.crypto.SetSessionKey(key)
	wrapped, err := e.crypto.WrapSessionKey(key)
	if err != nil {
		e.closeWithErr(&chaterr.HandshakeFailed{Phase: "wrap", Cause: err})
		return
	}
	e.enqueue(message.Message{
		ID:        e.freshID(),
		Timestamp: time.Now(),
		Kind:      message.Handshake{Variant: message.HandshakeKeyConfirmed, Bytes: wrapped},
	})
	e.markLocalEncryptionReady()
}

func (e *Endpoint) handleKeyConfirmed(wrapped []byte) {
	key, err := e.crypto.UnwrapSessionKey(wrapped)
	if err != nil {
		e.closeWithErr(err)
		return
	}
	e.crypto.SetSessionKey(key)
	e.markLocalEncryptionReady()
}

func (e *Endpoint) markLocalEncryptionReady() {
	e.enqueue(message.Message{
		ID:        e.freshID(),
		Timestamp: time.Now(),
		Kind:      message.Handshake{Variant: message.HandshakeEncryptionReady},
	})
	e.mu.Lock()
	e.sawLocalReady = true
	both := e.sawLocalReady && e.sawPeerReady
	e.mu.Unlock()
	if both {
		e.transitionToReady(true)
	}
}

func (e *Endpoint) handlePeerEncryptionReady() {
	e.mu.Lock()
	e.sawPeerReady = true
	both := e.sawLocalReady && e.sawPeerReady
	e.mu.Unlock()
	if both {
		e.transitionToReady(true)
	}
}

func (e *Endpoint) handlePeerDeclinedEncryption() {
	if !e.cfg.EncryptionEnabled {
		e.transitionToReady(false)
		return
	}
	e.closeWithErr(&chaterr.EncryptionRequired{})
}

var errBadPublicKeyLength = simpleError("handshake public key is not 32 bytes")
var errSignatureInvalid = simpleError("handshake public key signature did not verify")
var errTransportFailedDuringHandshake = simpleError("transport failed before handshake completed")
