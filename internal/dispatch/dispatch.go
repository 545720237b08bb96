// Package dispatch classifies a decoded inbound message.Message and routes
// it to the sink or component responsible for it, per SPEC_FULL.md §4.8.
// Grounded on gossip.go's ingestEvent (a single function that switches on
// an inbound event's kind and fans out to history, peer bookkeeping, or a
// registered EventHandler), generalized from gossip's one-shot
// fire-and-forget fan-out to typed, bounded-channel sinks so a slow UI
// consumer applies backpressure to the reader instead of being silently
// skipped.
package dispatch

import (
	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/filestage"
	"github.com/p2pchat/p2pchat/internal/message"
)

// Dispatcher holds one bounded channel per sink kind plus the hooks that
// let control-plane kinds reach the components that own their state
// (reliability tracker, session state machine, liveness timer) without the
// dispatcher importing those packages directly.
type Dispatcher struct {
	Text      chan message.Text
	Status    chan message.Status
	FileSaved chan string
	Errors    chan error

	// OnAck fires for an inbound Ack, letting the caller clear the
	// corresponding pending record in the reliability tracker.
	OnAck func(targetID uint64)
	// OnHeartbeat fires for an inbound Heartbeat, resetting the liveness
	// timer.
	OnHeartbeat func()
	// OnHandshake fires for an inbound Handshake sub-message, handed to the
	// session state machine.
	OnHandshake func(message.Handshake)
	// RequestAck is called with the id of a Text/File message once it has
	// been accepted, so the caller can enqueue an outbound Ack frame.
	RequestAck func(id uint64)

	downloadDir   string
	maxFileBytes  int64
	autoOpenMedia bool
	mediaExts     map[string]bool
}

// New constructs a Dispatcher with the given sink capacities (SPEC_FULL.md
// §5's resource bounds: inbound 256, UI 1024 by default).
func New(sinkCap, uiCap int, downloadDir string, maxFileBytes int64, autoOpenMedia bool, mediaExts map[string]bool) *Dispatcher {
	return &Dispatcher{
		Text:          make(chan message.Text, uiCap),
		Status:        make(chan message.Status, uiCap),
		FileSaved:     make(chan string, sinkCap),
		Errors:        make(chan error, sinkCap),
		downloadDir:   downloadDir,
		maxFileBytes:  maxFileBytes,
		autoOpenMedia: autoOpenMedia,
		mediaExts:     mediaExts,
	}
}

// Route classifies msg and sends it to the appropriate sink or hook. It
// blocks on full channel sinks rather than dropping, per §4.8's invariant —
// callers run it from the reader goroutine (or a goroutine fed by the
// reader) and accept that backpressure.
func (d *Dispatcher) Route(msg message.Message) {
	switch k := msg.Kind.(type) {
	case message.Text:
		d.Text <- k
		d.requestAck(msg.ID)

	case message.File:
		d.routeFile(msg.ID, k)

	case message.Command:
		// A Command arriving from the peer is never executed locally; it
		// is surfaced as an informational status instead.
		d.Status <- peerCommandToStatus(k)

	case message.Status:
		d.Status <- k

	case message.Heartbeat:
		if d.OnHeartbeat != nil {
			d.OnHeartbeat()
		}

	case message.Ack:
		if d.OnAck != nil {
			d.OnAck(k.TargetID)
		}

	case message.Handshake:
		if d.OnHandshake != nil {
			d.OnHandshake(k)
		}

	default:
		d.Errors <- &chaterr.UnknownVariant{Tag: byte(msg.Kind.Tag())}
	}
}

func (d *Dispatcher) requestAck(id uint64) {
	if d.RequestAck != nil {
		d.RequestAck(id)
	}
}

func (d *Dispatcher) routeFile(id uint64, f message.File) {
	path, err := filestage.Receive(f, d.downloadDir)
	if err != nil {
		d.Errors <- err
		return
	}
	d.FileSaved <- path
	if d.autoOpenMedia && filestage.IsMediaExtension(path, d.mediaExts) {
		d.Status <- message.Status{Kind: "auto-open", Detail: path}
	}
	d.requestAck(id)
}

// peerCommandToStatus renders a peer-originated command as an
// informational status update rather than a local action.
func peerCommandToStatus(c message.Command) message.Status {
	switch c.Variant {
	case message.CmdSetNickname:
		return message.Status{Kind: "peer-command", Detail: "peer changed nickname to " + c.Nickname}
	case message.CmdSendFile:
		return message.Status{Kind: "peer-command", Detail: "peer requested file " + c.Path}
	case message.CmdQuit:
		return message.Status{Kind: "peer-command", Detail: "peer issued quit"}
	case message.CmdToggleAutoOpen:
		return message.Status{Kind: "peer-command", Detail: "peer toggled auto-open"}
	case message.CmdListPeers:
		return message.Status{Kind: "peer-command", Detail: "peer listed peers"}
	case message.CmdInfo:
		return message.Status{Kind: "peer-command", Detail: "peer requested info"}
	case message.CmdHelp:
		return message.Status{Kind: "peer-command", Detail: "peer requested help"}
	default:
		return message.Status{Kind: "peer-command", Detail: "peer sent an unrecognized command"}
	}
}
