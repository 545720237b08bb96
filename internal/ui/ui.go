// Package ui defines the callback/channel boundary between a session's
// dispatcher and whatever renders its events to a user. Grounded on
// cli.go's SetEventHandler switch (EventMessage/EventDM/EventFileOffer/...
// dispatched to fmt.Printf calls); generalized here from one combined
// callback with an interface{} payload to the four typed sinks SPEC_FULL.md
// §6 calls out (OnText, OnStatus, OnFileSaved, OnError), each backed by its
// own channel on the dispatcher so a slow renderer only ever blocks its own
// kind of event.
package ui

import (
	"context"

	"github.com/p2pchat/p2pchat/internal/dispatch"
	"github.com/p2pchat/p2pchat/internal/message"
)

// Sink holds the four render callbacks a front end supplies. A nil callback
// silently drops that kind of event; cmd/p2pchat sets all four.
type Sink struct {
	OnText      func(message.Text)
	OnStatus    func(message.Status)
	OnFileSaved func(path string)
	OnError     func(error)
}

// Run drains d's four channels until ctx is cancelled or d.Errors and the
// others are never closed out from under it — the dispatcher's channels
// live for the lifetime of the owning session, so Run exits only on ctx
// cancellation (mirroring the session's own Draining→Closed shutdown).
func (s Sink) Run(ctx context.Context, d *dispatch.Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-d.Text:
			if s.OnText != nil {
				s.OnText(text)
			}
		case status := <-d.Status:
			if s.OnStatus != nil {
				s.OnStatus(status)
			}
		case path := <-d.FileSaved:
			if s.OnFileSaved != nil {
				s.OnFileSaved(path)
			}
		case err := <-d.Errors:
			if s.OnError != nil {
				s.OnError(err)
			}
		}
	}
}
