// Package wire implements the bit-exact frame codec of SPEC_FULL.md §6:
//
//	[u32 length][u64 id][u64 epoch_micros][u8 variant_tag][variant_payload]
//
// length counts the bytes after itself. All integers are big-endian
// ("network byte order"). Strings are length-prefixed UTF-8; opaque byte
// blobs are length-prefixed octet strings. decode(encode(m)) == m for every
// defined Kind.
//
// No codec library in the example pack can express this fixed, versioned
// layout bit-for-bit (the teacher frames with encoding/json lines; peer-it's
// internal/protocol/codec.go frames with encoding/gob) — this layer is
// deliberately hand-built on encoding/binary, per SPEC_FULL.md §4.1.
package wire

import (
	"encoding/binary"
	"time"
	"unicode/utf8"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/message"
)

// MaxFrameBytes bounds the length prefix so a corrupt or hostile peer cannot
// make the reader allocate an unbounded buffer.
const MaxFrameBytes = 256 * 1024 * 1024

// headerBytes is the size of [u32 length][u64 id][u64 epoch][u8 tag] minus
// the length prefix itself (id + epoch + tag), i.e. what "length" counts
// beyond the variant payload.
const headerBytes = 8 + 8 + 1

// ErrIncomplete is returned when buf does not yet hold a full frame (or, for
// the legacy fallback, a full line). Callers keep reading and retry.
var ErrIncomplete = errIncomplete{}

type errIncomplete struct{}

func (errIncomplete) Error() string { return "incomplete frame" }

// Encode renders msg in the binary form described above. Writers always use
// this form, never the legacy fallback.
func Encode(msg message.Message) []byte {
	payload := encodePayload(msg.Kind)
	body := make([]byte, headerBytes+len(payload))
	binary.BigEndian.PutUint64(body[0:8], msg.ID)
	binary.BigEndian.PutUint64(body[8:16], uint64(msg.Timestamp.UnixMicro()))
	body[16] = byte(msg.Kind.Tag())
	copy(body[17:], payload)

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// Decode attempts to decode one frame (or one legacy line) from the front of
// buf. It returns the number of bytes consumed. If buf does not yet contain
// a complete unit, it returns ErrIncomplete and the caller should read more
// and retry with a larger buf. freshID supplies a monotonic id for messages
// that arrive via the legacy plaintext fallback, which carries no id of its
// own.
func Decode(buf []byte, freshID func() uint64) (message.Message, int, error) {
	if len(buf) < 4 {
		return message.Message{}, 0, ErrIncomplete
	}
	if !looksBinary(buf) {
		return decodeLegacyText(buf, freshID)
	}

	length := binary.BigEndian.Uint32(buf[0:4])
	if length > MaxFrameBytes || length < headerBytes {
		return message.Message{}, 0, &chaterr.MalformedFrame{}
	}
	total := 4 + int(length)
	if len(buf) < total {
		return message.Message{}, 0, ErrIncomplete
	}

	body := buf[4:total]
	id := binary.BigEndian.Uint64(body[0:8])
	epochMicros := int64(binary.BigEndian.Uint64(body[8:16]))
	tag := message.Tag(body[16])
	payload := body[17:]

	kind, err := decodePayload(tag, payload)
	if err != nil {
		return message.Message{}, 0, err
	}

	return message.Message{
		ID:        id,
		Timestamp: time.UnixMicro(epochMicros),
		Kind:      kind,
	}, total, nil
}

// looksBinary reports whether the first 4 bytes of buf are consistent with a
// valid binary length prefix rather than printable legacy text. Per
// SPEC_FULL.md §6: if the first 4 bytes form printable UTF-8, treat the
// input as legacy text; a binary length prefix's high bytes are almost
// always non-printable for any frame under 32MB, which is the overwhelming
// common case, so this heuristic cleanly separates the two on real traffic.
func looksBinary(buf []byte) bool {
	return !isPrintableASCIIRun(buf[:4])
}

func isPrintableASCIIRun(b []byte) bool {
	for _, c := range b {
		if c == '\n' || c == '\r' || c == '\t' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func decodeLegacyText(buf []byte, freshID func() uint64) (message.Message, int, error) {
	nl := -1
	for i, c := range buf {
		if c == '\n' {
			nl = i
			break
		}
	}
	if nl < 0 {
		return message.Message{}, 0, ErrIncomplete
	}
	line := buf[:nl]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if !utf8.Valid(line) {
		return message.Message{}, 0, &chaterr.MalformedFrame{}
	}
	return message.Message{
		ID:        freshID(),
		Timestamp: time.Now(),
		Kind:      message.Text{UTF8: string(line)},
	}, nl + 1, nil
}
