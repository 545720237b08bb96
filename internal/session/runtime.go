package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/message"
)

// retrySweepInterval is how often the timer goroutine checks the
// reliability tracker for due retries and expired records.
const retrySweepInterval = 250 * time.Millisecond

// runTimers is the "timer" task of §5's four-goroutines-per-session model:
// it emits heartbeats, watches for peer silence, and sweeps the
// reliability tracker for retries and final failures. The last-traffic
// timestamp it checks is updated by pumpInbound for every decoded inbound
// message, whatever its kind.
func (e *Endpoint) runTimers(ctx context.Context) {
	interval := e.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	heartbeatTicker := time.NewTicker(interval)
	defer heartbeatTicker.Stop()
	sweepTicker := time.NewTicker(retrySweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-heartbeatTicker.C:
			if e.State() != Ready {
				continue
			}
			e.enqueue(message.Message{ID: e.freshID(), Timestamp: time.Now(), Kind: message.Heartbeat{}})
			if e.silentFor(2 * interval) {
				e.fail(&chaterr.PeerSilent{})
				return
			}
		case <-sweepTicker.C:
			e.sweepRetries()
		}
	}
}

// touchLastTraffic records that traffic was observed just now. Called from
// pumpInbound on every decoded message.
func (e *Endpoint) touchLastTraffic() {
	atomic.StoreInt64(&e.lastTrafficUnixNano, time.Now().UnixNano())
}

func (e *Endpoint) silentFor(d time.Duration) bool {
	last := atomic.LoadInt64(&e.lastTrafficUnixNano)
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) >= d
}

func (e *Endpoint) sweepRetries() {
	due, expired := e.tracker.Sweep(time.Now())
	for _, d := range due {
		select {
		case e.outbound <- d.Bytes:
		case <-e.done:
			return
		}
	}
	for _, ex := range expired {
		select {
		case e.Dispatcher.Errors <- &chaterr.DeliveryFailed{MessageID: ex.MessageID}:
		case <-e.done:
			return
		}
	}
}
