// Package peer drives a single peer-connection negotiation over a
// signaling stream and wraps the result as a Conn with liveness checking.
package peer

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
)

// State mirrors the connection states a peer-connection engine moves
// through.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Engine is the narrow surface the negotiator drives on a peer-connection
// engine. The production implementation wraps pion/webrtc; tests use an
// in-memory fake.
//
// Candidates and States never close; consumers stop reading when their own
// lifetime ends. Both channels stop being fed after Close.
type Engine interface {
	// CreateOffer builds the initial session description. It does not
	// apply it; the caller follows up with SetLocalDescription.
	CreateOffer() (protocol.SessionDescription, error)

	// CreateAnswer builds the responding session description after a
	// remote offer has been applied.
	CreateAnswer() (protocol.SessionDescription, error)

	// SetLocalDescription applies a locally created description and
	// starts candidate gathering.
	SetLocalDescription(desc protocol.SessionDescription) error

	// SetRemoteDescription applies the description received from the
	// remote side. Called at most once per negotiation.
	SetRemoteDescription(desc protocol.SessionDescription) error

	// AddCandidate applies one remote ICE candidate. Only valid after
	// SetRemoteDescription.
	AddCandidate(candidate protocol.Candidate) error

	// Candidates yields locally discovered ICE candidates for trickling
	// to the remote side.
	Candidates() <-chan protocol.Candidate

	// States yields connection state transitions.
	States() <-chan State

	// Ping sends a probe over the established connection and returns the
	// round-trip time of its echo.
	Ping(ctx context.Context) (time.Duration, error)

	// Close releases the engine and unblocks its callbacks. Idempotent.
	Close() error
}
