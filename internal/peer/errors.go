package peer

import "errors"

var (
	// ErrProtocol reports a malformed or out-of-protocol message on the
	// signaling stream, or a terminal error sent by the remote side.
	ErrProtocol = errors.New("peer: protocol error")

	// ErrNegotiationTimeout reports that the negotiation deadline elapsed
	// before the engine reached the connected state.
	ErrNegotiationTimeout = errors.New("peer: negotiation timed out")

	// ErrNegotiationFailed reports that the engine gave up, typically
	// because no viable candidate pair was found.
	ErrNegotiationFailed = errors.New("peer: negotiation failed")

	// ErrNotConnected reports a liveness probe on a connection that is
	// closed or was never established.
	ErrNotConnected = errors.New("peer: not connected")

	// ErrUnresponsive reports a liveness probe that received no echo in
	// time.
	ErrUnresponsive = errors.New("peer: remote unresponsive")
)
