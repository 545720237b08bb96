// Package transport drives a single net.Conn as two independently owned
// halves: a reader goroutine that only ever calls Read, and a writer
// goroutine that only ever calls Write/SetWriteDeadline. Grounded on
// gossip.go's listenAndServe/handleConn accept-with-deadline loop, adapted
// from handleConn's single blocking read-then-switch loop to the ownership-
// split reader/writer pair SPEC_FULL.md §4.7/§5 requires, with
// internal/wire supplying the framing handleConn's encoding/json.Decoder
// did for gossip's line-oriented protocol.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/p2pchat/p2pchat/internal/message"
	"github.com/p2pchat/p2pchat/internal/wire"
)

// writeDeadline bounds a single frame write so a stalled peer cannot hang
// the writer goroutine forever.
const writeDeadline = 10 * time.Second

// Transport owns conn for the lifetime of one session. Conn satisfies both
// io.Reader and io.Writer, but RunReader and RunWriter never touch it from
// more than one goroutine at a time each.
type Transport struct {
	conn         net.Conn
	readBufBytes int
}

// New wraps conn. readBufBytes sizes the reader's initial scratch buffer
// (SPEC_FULL.md §3's Config.ReadBufferBytes); it grows as needed for
// oversized frames.
func New(conn net.Conn, readBufBytes int) *Transport {
	if readBufBytes <= 0 {
		readBufBytes = 8192
	}
	return &Transport{conn: conn, readBufBytes: readBufBytes}
}

// Close closes the underlying connection. Safe to call from either
// goroutine or the owning session once; net.Conn.Close is itself
// concurrency-safe.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// RemoteAddr returns the peer's address string.
func (t *Transport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// RunReader decodes frames from conn until ctx is cancelled, the connection
// closes, or a non-recoverable decode error occurs. Decoded messages are
// sent to out with a plain blocking send (backpressure, never dropped, per
// §5). freshID assigns ids to legacy text frames that carry none on the
// wire. The first error (including a clean io.EOF from conn.Read) is sent
// to errs and the goroutine returns.
func (t *Transport) RunReader(ctx context.Context, freshID func() uint64, out chan<- message.Message, errs chan<- error) {
	buf := make([]byte, 0, t.readBufBytes)
	chunk := make([]byte, t.readBufBytes)

	for {
		msg, consumed, err := wire.Decode(buf, freshID)
		if err == nil {
			buf = buf[consumed:]
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
			continue
		}
		if err != wire.ErrIncomplete {
			select {
			case errs <- err:
			case <-ctx.Done():
			}
			return
		}

		n, readErr := t.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			select {
			case errs <- readErr:
			case <-ctx.Done():
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// RunWriter writes frames pulled from in, in order, until ctx is cancelled
// or a write fails. Each write gets a fresh deadline so a stalled peer
// cannot block the goroutine indefinitely.
func (t *Transport) RunWriter(ctx context.Context, in <-chan []byte, errs chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if _, err := t.conn.Write(frame); err != nil {
				select {
				case errs <- err:
				case <-ctx.Done():
				}
				return
			}
		}
	}
}
