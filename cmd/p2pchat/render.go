package main

import (
	"context"
	"fmt"
	"time"

	"github.com/p2pchat/p2pchat/internal/message"
	"github.com/p2pchat/p2pchat/internal/session"
	"github.com/p2pchat/p2pchat/internal/ui"
)

// renderEvents drains ep's dispatcher sinks to the terminal, in the same
// one-callback-per-event-kind style as cli.go's SetEventHandler switch.
func renderEvents(ctx context.Context, ep *session.Endpoint) {
	sink := ui.Sink{
		OnText: func(t message.Text) {
			fmt.Printf("\r[%s] peer: %s\n", time.Now().Format("15:04:05"), t.UTF8)
		},
		OnStatus: func(s message.Status) {
			fmt.Printf("\r[status:%s] %s\n", s.Kind, s.Detail)
		},
		OnFileSaved: func(path string) {
			fmt.Printf("\r[file] saved to %s\n", path)
		},
		OnError: func(err error) {
			fmt.Printf("\r[err] %v\n", err)
		},
	}
	sink.Run(ctx, ep.Dispatcher)
}
