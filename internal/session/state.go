// Package session implements the endpoint's state machine: the listen/dial
// race, the handshake, and the concurrent runtime that keeps a Ready
// session alive. Grounded on gossip.go's Node (the long-lived struct that
// owns a connection's lifecycle) and its listenAndServe/dialOnce/handleConn
// trio, generalized from gossip's fire-and-forget multi-peer gossip loop to
// the spec's gated, single-peer state machine (SPEC_FULL.md §4.4).
package session

import "fmt"

// Phase identifies a coarse handshake sub-state. Mode is Asym while public
// keys are being exchanged and Sym while the session key is being derived
// and confirmed.
type Phase int

const (
	PhaseAsym Phase = iota
	PhaseSym
)

func (p Phase) String() string {
	if p == PhaseSym {
		return "sym"
	}
	return "asym"
}

// State is the session's coarse lifecycle state, matching spec.md §4.4's
// table exactly: Idle | Racing | Handshaking{mode} | Ready{encrypted} |
// Draining | Closed.
type State int

const (
	Idle State = iota
	Racing
	Handshaking
	Ready
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Racing:
		return "racing"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Direction distinguishes which side of the listen/dial race won, since
// that side is the deterministic deriver of the session key
// (spec.md §4.4's "Race tie-break").
type Direction int

const (
	DirectionListener Direction = iota
	DirectionDialer
)
