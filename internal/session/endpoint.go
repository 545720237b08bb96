package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/config"
	"github.com/p2pchat/p2pchat/internal/cryptocore"
	"github.com/p2pchat/p2pchat/internal/dispatch"
	"github.com/p2pchat/p2pchat/internal/message"
	"github.com/p2pchat/p2pchat/internal/reliability"
	"github.com/p2pchat/p2pchat/internal/transport"
	"github.com/p2pchat/p2pchat/internal/wire"
)

// handshakeTimeout bounds how long the endpoint waits for the peer's public
// key or an explicit refusal before falling back to policy
// (spec.md §4.2's "5 s default").
const handshakeTimeout = 5 * time.Second

// PeerDescriptor describes the connected peer. LocalID is generated with
// uuid.NewString the way other_examples/X0RA-GoSend and
// other_examples/gabrielpires-1-fileshare-e2e-crypto-project mint per-entity
// ids.
type PeerDescriptor struct {
	LocalID              string
	DisplayNickname      string
	RemoteAddress        string
	ConnectTime          time.Time
	PublicKeyFingerprint *string
}

// Endpoint owns one peer-to-peer session end to end: the listen/dial race,
// the handshake, and the concurrent runtime that keeps a Ready session
// alive. Grounded on gossip.go's Node, the long-lived struct that owns a
// connection's lifecycle across its public methods and background
// goroutines.
type Endpoint struct {
	cfg        config.Config
	log        *logrus.Logger
	identity   *cryptocore.Identity
	crypto     *cryptocore.State
	tracker    *reliability.Tracker
	Dispatcher *dispatch.Dispatcher

	mu        sync.Mutex
	state     State
	phase     Phase
	direction Direction
	peer      PeerDescriptor

	sawLocalReady bool
	sawPeerReady  bool
	decided       bool // true once handshake outcome (Ready or Closed) is final
	closeErr      error

	transport *transport.Transport
	outbound  chan []byte

	nextID   uint64
	nextIDMu sync.Mutex

	cancel  context.CancelFunc
	done    chan struct{}
	readyCh chan struct{}

	lastTrafficUnixNano int64
}

// New constructs an Endpoint from cfg, generating a fresh X25519 identity
// and wiring the reliability tracker and dispatcher.
func New(cfg config.Config) (*Endpoint, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	identity, err := cryptocore.GenerateIdentity()
	if err != nil {
		return nil, err
	}

	e := &Endpoint{
		cfg:      cfg,
		log:      log,
		identity: identity,
		crypto:   cryptocore.NewState(identity),
		tracker:  reliability.New(cfg.ReconnectAttempts, 0),
		state:    Idle,
		readyCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.Dispatcher = dispatch.New(256, 1024, cfg.DownloadDirectory, cfg.MaxFileBytes, cfg.AutoOpenMedia, cfg.MediaExtensions)
	e.Dispatcher.OnAck = e.onAck
	e.Dispatcher.OnHeartbeat = e.onHeartbeat
	e.Dispatcher.OnHandshake = e.onHandshake
	e.Dispatcher.RequestAck = e.sendAck
	return e, nil
}

// State returns the endpoint's current coarse state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Peer returns the connected peer's descriptor.
func (e *Endpoint) Peer() PeerDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

func (e *Endpoint) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev != s {
		e.log.WithFields(logrus.Fields{"from": prev.String(), "to": s.String()}).Debug("session state transition")
	}
}

// Ready is closed once the session reaches the Ready state (with or without
// encryption) or fails outright; callers select on it alongside ctx.Done().
func (e *Endpoint) Ready() <-chan struct{} { return e.readyCh }

func (e *Endpoint) freshID() uint64 {
	e.nextIDMu.Lock()
	defer e.nextIDMu.Unlock()
	e.nextID++
	return e.nextID
}

// raceOutcome is posted by the listener and dialer goroutines; exactly one
// outcome per racer, success or failure.
type raceOutcome struct {
	conn      net.Conn
	direction Direction
	err       error
}

// Start runs the listen/dial race, the handshake, and launches the
// concurrent runtime. It returns once the session reaches Ready or fails;
// the runtime keeps going in the background until ctx is cancelled or
// Shutdown is called.
func (e *Endpoint) Start(ctx context.Context, connectAddr string) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.setState(Racing)

	racers := 1
	if connectAddr != "" {
		racers = 2
	}
	outcomes := make(chan raceOutcome, racers)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.cfg.ListenPort))
	if err != nil {
		cancel()
		return &chaterr.BindFailed{Port: int(e.cfg.ListenPort), Cause: err}
	}

	// Each racer gets its own cancellable sub-context so the loser can be
	// aborted the instant a winner is chosen (spec.md §4.4: "accept
	// succeeds -> abort the dial" / "dial succeeds -> abort the bind")
	// instead of retrying in the background against a race already decided.
	acceptCtx, cancelAccept := context.WithCancel(runCtx)
	dialCtx, cancelDial := context.WithCancel(runCtx)
	go e.acceptRacer(acceptCtx, ln, outcomes)
	if connectAddr != "" {
		go e.dialRacer(dialCtx, connectAddr, outcomes)
	} else {
		cancelDial()
	}

	var winner *raceOutcome
	failures := 0
raceLoop:
	for failures < racers {
		select {
		case <-ctx.Done():
			cancelAccept()
			cancelDial()
			_ = ln.Close()
			cancel()
			go drainOutcomes(outcomes, racers-failures)
			return ctx.Err()
		case outcome := <-outcomes:
			if outcome.err == nil {
				winner = &outcome
				if winner.direction == DirectionListener {
					cancelDial()
				} else {
					cancelAccept()
				}
				_ = ln.Close()
				break raceLoop
			}
			failures++
		}
	}
	cancelAccept()
	cancelDial()
	if winner == nil {
		cancel()
		return &chaterr.NoPeerReachable{}
	}
	// The loser may still land a late conn in the buffered outcomes channel
	// (it had already dialed/accepted before its context was cancelled);
	// nothing else will ever read that slot, so drain and close it here.
	go drainOutcomes(outcomes, racers-1-failures)

	e.direction = winner.direction
	e.peer = PeerDescriptor{
		LocalID:       uuid.NewString(),
		RemoteAddress: winner.conn.RemoteAddr().String(),
		ConnectTime:   time.Now(),
	}

	e.transport = transport.New(winner.conn, e.cfg.ReadBufferBytes)
	e.outbound = make(chan []byte, 256)

	readerMsgs := make(chan message.Message, 256)
	readerErrs := make(chan error, 1)
	writerErrs := make(chan error, 1)

	go e.transport.RunReader(runCtx, e.freshID, readerMsgs, readerErrs)
	go e.transport.RunWriter(runCtx, e.outbound, writerErrs)
	go e.pumpInbound(runCtx, readerMsgs)
	go e.watchTransportErrors(runCtx, readerErrs, writerErrs)

	return e.runHandshake(runCtx)
}

// drainOutcomes absorbs up to n more sends on outcomes and closes any conn
// they carry. It runs after the race is decided, when nothing else will
// ever read this channel again; without it a losing racer that completes
// just after losing would leak a live, never-closed socket.
func drainOutcomes(outcomes <-chan raceOutcome, n int) {
	for i := 0; i < n; i++ {
		outcome := <-outcomes
		if outcome.conn != nil {
			_ = outcome.conn.Close()
		}
	}
}

func (e *Endpoint) acceptRacer(ctx context.Context, ln net.Listener, out chan<- raceOutcome) {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case out <- raceOutcome{err: err}:
		case <-ctx.Done():
		}
		return
	}
	select {
	case out <- raceOutcome{conn: conn, direction: DirectionListener}:
	case <-ctx.Done():
		_ = conn.Close()
	}
}

func (e *Endpoint) dialRacer(ctx context.Context, addr string, out chan<- raceOutcome) {
	delay := e.cfg.ReconnectDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	attempts := e.cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 5
	}

	var lastErr error
	dialer := net.Dialer{}
	for attempt := 0; attempt < attempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			select {
			case out <- raceOutcome{conn: conn, direction: DirectionDialer}:
			case <-ctx.Done():
				_ = conn.Close()
			}
			return
		}
		lastErr = err
		select {
		case <-ctx.Done():
			select {
			case out <- raceOutcome{err: ctx.Err()}:
			default:
			}
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > 8*time.Second {
			delay = 8 * time.Second
		}
	}
	select {
	case out <- raceOutcome{err: &chaterr.DialFailed{Address: addr, Cause: lastErr}}:
	case <-ctx.Done():
	}
}

func (e *Endpoint) watchTransportErrors(ctx context.Context, readerErrs, writerErrs <-chan error) {
	select {
	case err := <-readerErrs:
		e.fail(err)
	case err := <-writerErrs:
		e.fail(err)
	case <-ctx.Done():
	}
}

func (e *Endpoint) fail(err error) {
	e.setState(Draining)
	select {
	case e.Dispatcher.Errors <- classifyTransportErr(err):
	default:
	}
	e.closeOnce()
}

// classifyTransportErr maps a clean disconnect (EOF on read, or a write
// against an already-closed conn) to chaterr.PeerClosed, the taxonomy's
// explicit "clean" counterpart to PeerSilent/AuthenticationFailed; every
// other transport error passes through unchanged.
func classifyTransportErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return &chaterr.PeerClosed{}
	}
	return err
}

func (e *Endpoint) closeOnce() {
	e.mu.Lock()
	alreadyClosed := e.state == Closed
	e.state = Closed
	e.mu.Unlock()
	if alreadyClosed {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.transport != nil {
		_ = e.transport.Close()
	}
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// Shutdown drives the Ready→Draining→Closed path: it marks the session
// Draining, then at once cancels the runtime and closes the transport.
// Frames still queued for the writer are not flushed first.
func (e *Endpoint) Shutdown() {
	e.setState(Draining)
	e.closeOnce()
}

// Done is closed once the endpoint has fully shut down.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

func (e *Endpoint) pumpInbound(ctx context.Context, in <-chan message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			e.touchLastTraffic()
			final := msg
			if msg.Kind.Tag() == message.TagCipherText {
				inner, err := openMessage(e.crypto, msg, e.freshID)
				if err != nil {
					// A ciphertext that fails authentication compromises session
					// integrity: drain and close instead of merely reporting the
					// error, and never hand the tampered frame to the dispatcher.
					e.fail(err)
					return
				}
				final = inner
			}
			if message.Reliable(final.Kind) && e.tracker.Seen(final.ID) {
				// The sender's retry beat its own ack across the wire; ack
				// again in case the first ack was lost in transit, but never
				// deliver the same reliable message to the UI twice.
				e.sendAck(final.ID)
				continue
			}
			e.Dispatcher.Route(final)
		}
	}
}

// enqueue wire-encodes msg and sends the frame to the writer, tracking it
// in the reliability tracker if its kind is reliable.
func (e *Endpoint) enqueue(msg message.Message) {
	frame := wire.Encode(msg)
	if message.Reliable(msg.Kind) {
		e.tracker.Track(msg.ID, frame, time.Now())
	}
	select {
	case e.outbound <- frame:
	case <-e.done:
	}
}

func (e *Endpoint) sendAck(id uint64) {
	e.enqueue(message.Message{ID: e.freshID(), Timestamp: time.Now(), Kind: message.Ack{TargetID: id}})
}

func (e *Endpoint) onAck(targetID uint64) {
	e.tracker.Ack(targetID)
}

func (e *Endpoint) onHeartbeat() {
	// Liveness tracking is driven by the runtime's timer goroutine, which
	// observes all inbound traffic, not only heartbeats; nothing to do here
	// beyond having proven the connection live (the dispatcher call itself
	// is the signal).
}

// encrypted reports whether the session negotiated encryption and is ready
// to use it.
func (e *Endpoint) encrypted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Ready && e.crypto.HasSessionKey()
}

// SendText enqueues a chat line, encrypting it if the session negotiated
// encryption.
func (e *Endpoint) SendText(text string) error {
	id := e.freshID()
	if e.encrypted() {
		outer, err := sealMessage(e.crypto, id, time.Now(), message.Text{UTF8: text})
		if err != nil {
			return err
		}
		e.enqueue(outer)
		return nil
	}
	e.enqueue(message.Message{ID: id, Timestamp: time.Now(), Kind: message.Text{UTF8: text}})
	return nil
}

// SendFile enqueues a staged file payload.
func (e *Endpoint) SendFile(f message.File) error {
	id := e.freshID()
	if e.encrypted() {
		outer, err := sealMessage(e.crypto, id, time.Now(), f)
		if err != nil {
			return err
		}
		e.enqueue(outer)
		return nil
	}
	e.enqueue(message.Message{ID: id, Timestamp: time.Now(), Kind: f})
	return nil
}

// SendCommand enqueues a local command to be surfaced to the peer as a
// status update.
func (e *Endpoint) SendCommand(c message.Command) {
	e.enqueue(message.Message{ID: e.freshID(), Timestamp: time.Now(), Kind: c})
}
