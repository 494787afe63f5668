// Package signaling provides the ordered, bidirectional message channels
// that negotiation messages travel over, and the transports that hand such
// channels out. The in-memory pipe serves tests and same-process use; the
// WebSocket implementation connects separate processes.
package signaling

import (
	"context"
	"errors"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
)

// ErrClosed is returned by stream and transport operations after Close.
var ErrClosed = errors.New("signaling: closed")

// Stream is one ordered, reliable, bidirectional negotiation channel.
// Messages are framed by the implementation; ordering is guaranteed per
// direction only. Send is safe for one caller at a time; Recv for one
// caller at a time; Close for any number concurrently.
type Stream interface {
	// Send writes one message. It returns ErrClosed after either side
	// has closed the stream.
	Send(ctx context.Context, msg *protocol.Message) error

	// Recv blocks for the next message. Messages sent before the remote
	// side closed are still delivered; afterwards Recv returns ErrClosed.
	Recv(ctx context.Context) (*protocol.Message, error)

	// Close tears the stream down and unblocks pending Send/Recv calls.
	// Idempotent.
	Close() error
}

// Transport yields inbound negotiation streams, one per remote connection
// attempt. It is the outer half the broker listens on.
type Transport interface {
	// Accept blocks until the next inbound stream arrives. After Close
	// it returns ErrClosed.
	Accept(ctx context.Context) (Stream, error)

	// Close stops producing streams and unblocks pending Accept calls.
	// Idempotent.
	Close() error
}
