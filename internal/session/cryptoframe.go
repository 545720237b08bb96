package session

import (
	"encoding/binary"
	"time"

	"github.com/p2pchat/p2pchat/internal/cryptocore"
	"github.com/p2pchat/p2pchat/internal/message"
	"github.com/p2pchat/p2pchat/internal/wire"
)

// associatedData renders the outer frame's id, timestamp, and tag as the
// AEAD associated data, binding a ciphertext to the specific envelope it
// travels in (SPEC_FULL.md §4.2: "Associated data is exactly id || epoch ||
// tag").
func associatedData(id uint64, ts time.Time, tag message.Tag) []byte {
	buf := make([]byte, 17)
	binary.BigEndian.PutUint64(buf[0:8], id)
	binary.BigEndian.PutUint64(buf[8:16], uint64(ts.UnixMicro()))
	buf[16] = byte(tag)
	return buf
}

// sealMessage wraps kind in a fully self-contained inner frame (its own
// id/timestamp/tag, wire-encoded), encrypts that frame under crypto's
// session key, and returns the outer CipherText message carrying it. The
// outer message reuses id so an inbound Ack naming id acknowledges both the
// ciphertext frame and the logical message it carries.
func sealMessage(crypto *cryptocore.State, id uint64, ts time.Time, kind message.Kind) (message.Message, error) {
	inner := message.Message{ID: id, Timestamp: ts, Kind: kind}
	plaintext := wire.Encode(inner)

	counter, ok := crypto.NextNonce()
	if !ok {
		return message.Message{}, errNonceExhausted
	}
	ad := associatedData(id, ts, message.TagCipherText)
	nonce, ciphertext, err := crypto.Seal(plaintext, ad, counter)
	if err != nil {
		return message.Message{}, err
	}
	return message.Message{ID: id, Timestamp: ts, Kind: message.CipherText{Nonce: nonce, Ciphertext: ciphertext}}, nil
}

// openMessage reverses sealMessage: it decrypts outer's ciphertext and
// wire-decodes the recovered inner frame.
func openMessage(crypto *cryptocore.State, outer message.Message, freshID func() uint64) (message.Message, error) {
	ct := outer.Kind.(message.CipherText)
	ad := associatedData(outer.ID, outer.Timestamp, message.TagCipherText)
	plaintext, err := crypto.Open(ct.Nonce, ct.Ciphertext, ad)
	if err != nil {
		return message.Message{}, err
	}
	inner, _, err := wire.Decode(plaintext, freshID)
	if err != nil {
		return message.Message{}, err
	}
	return inner, nil
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

var errNonceExhausted = simpleError("session nonce counter exhausted; session must be re-established")
