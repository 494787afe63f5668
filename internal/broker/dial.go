// Package broker turns signaling streams into established peer
// connections: Dial negotiates as the offerer over a caller-supplied
// stream, Listen answers every stream an outer transport yields.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v3"

	"github.com/rudransh-shrivastava/peerlink/internal/peer"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
)

var (
	// ErrInvalidArgument reports a nil or unusable stream/transport.
	ErrInvalidArgument = errors.New("broker: invalid argument")

	// ErrListenerClosed is returned by Accept once the listener closes.
	ErrListenerClosed = errors.New("broker: listener closed")
)

// Dial negotiates a peer connection over an already-open signaling stream,
// acting as the offerer. It blocks until the connection is established or
// the negotiation reaches a terminal failure. The stream is consumed
// either way: on failure it is closed, on success the returned connection
// owns it.
func Dial(stream signaling.Stream, iceServers []webrtc.ICEServer, opts *peer.ConnOptions) (*peer.Conn, error) {
	if stream == nil {
		return nil, fmt.Errorf("%w: nil signaling stream", ErrInvalidArgument)
	}

	var logger *slog.Logger
	if opts != nil {
		logger = opts.Logger
	}

	engine, err := peer.NewEngine(peer.EngineConfig{
		ICEServers: iceServers,
		Logger:     logger,
	})
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	return peer.Negotiate(context.Background(), peer.RoleOfferer, engine, stream, opts)
}
