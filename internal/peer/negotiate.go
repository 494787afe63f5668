package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
)

// Role fixes which side of the description exchange this peer takes.
type Role int

const (
	// RoleOfferer creates and sends the initial session description.
	RoleOfferer Role = iota
	// RoleAnswerer waits for the offer and responds with an answer.
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// negotiation holds the state of one in-flight negotiation. The pending
// buffer and remoteApplied flag are touched only by the reader goroutine;
// outgoing sends from the reader and the trickle goroutine are serialized
// by sendMu.
type negotiation struct {
	role   Role
	engine Engine
	stream signaling.Stream
	logger *slog.Logger

	sendMu sync.Mutex

	remoteApplied bool
	pending       []protocol.Candidate

	connected atomic.Bool

	// localSent gates candidate trickling: the local description always
	// reaches the wire before any local candidate.
	localSent chan struct{}
	localOnce sync.Once

	failure chan error
}

// Negotiate drives one negotiation over stream to a terminal outcome and
// returns the established connection. On any failure it closes the stream,
// releases the engine, and waits for every goroutine it spawned before
// returning. ctx cancels the negotiation; the configured timeout bounds it.
func Negotiate(ctx context.Context, role Role, engine Engine, stream signaling.Stream, opts *ConnOptions) (*Conn, error) {
	if engine == nil || stream == nil {
		return nil, errors.New("peer: negotiate requires an engine and a stream")
	}
	options := opts.withDefaults()

	nctx, cancel := context.WithTimeout(ctx, options.NegotiationTimeout)

	n := &negotiation{
		role:      role,
		engine:    engine,
		stream:    stream,
		logger:    options.Logger,
		localSent: make(chan struct{}),
		failure:   make(chan error, 1),
	}

	wg := &sync.WaitGroup{}
	n.logger.Debug("Negotiation starting", "role", role.String())

	if role == RoleOfferer {
		if err := n.sendOffer(nctx); err != nil {
			cancel()
			_ = stream.Close()
			_ = engine.Close()
			return nil, err
		}
	}

	wg.Add(2)
	go n.readLoop(nctx, wg)
	go n.trickleLoop(nctx, wg)

	for {
		select {
		case state := <-engine.States():
			switch state {
			case StateConnected:
				n.connected.Store(true)
				n.logger.Debug("Negotiation connected", "role", role.String())
				return newConn(engine, stream, options.Logger, cancel, wg, options.PingTimeout), nil
			case StateFailed:
				return nil, n.abort(cancel, wg, fmt.Errorf("%w: no viable candidate pair", ErrNegotiationFailed))
			case StateClosed:
				return nil, n.abort(cancel, wg, fmt.Errorf("%w: engine closed during negotiation", ErrNegotiationFailed))
			default:
				n.logger.Debug("Engine state change", "state", state.String())
			}

		case err := <-n.failure:
			return nil, n.abort(cancel, wg, err)

		case <-nctx.Done():
			if err := ctx.Err(); err != nil {
				// Owner-initiated cancellation, not our deadline.
				return nil, n.abort(cancel, wg, err)
			}
			return nil, n.abort(cancel, wg, fmt.Errorf("%w: no connection within %s", ErrNegotiationTimeout, options.NegotiationTimeout))
		}
	}
}

// sendOffer creates, applies, and sends the local offer. Runs before the
// background goroutines start, so the offer trivially precedes candidates.
func (n *negotiation) sendOffer(ctx context.Context) error {
	offer, err := n.engine.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if err := n.engine.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if err := n.send(ctx, protocol.NewDescription(offer)); err != nil {
		return fmt.Errorf("%w: sending offer: %v", ErrProtocol, err)
	}
	n.markLocalSent()
	return nil
}

// abort terminates a failed negotiation: tells the peer (best effort, on
// protocol violations only), cancels and awaits both goroutines, and
// releases the stream and engine. Cancellation happens before the notify
// so a trickler blocked in a send releases sendMu first.
func (n *negotiation) abort(cancel context.CancelFunc, wg *sync.WaitGroup, err error) error {
	cancel()

	if errors.Is(err, ErrProtocol) {
		notifyCtx, notifyCancel := context.WithTimeout(context.Background(), time.Second)
		_ = n.send(notifyCtx, protocol.NewError(err.Error()))
		notifyCancel()
	}

	_ = n.stream.Close()
	_ = n.engine.Close()
	wg.Wait()

	n.logger.Debug("Negotiation aborted", "role", n.role.String(), "error", err)
	return err
}

// readLoop applies incoming negotiation messages until the stream dies or
// the negotiation ends. After the connected transition, stream input is
// best effort and never fatal.
func (n *negotiation) readLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		msg, err := n.stream.Recv(ctx)
		if err != nil {
			if n.connected.Load() || ctx.Err() != nil {
				return
			}
			n.fail(fmt.Errorf("%w: signaling stream closed: %v", ErrProtocol, err))
			return
		}

		if err := n.handle(ctx, msg); err != nil {
			if n.connected.Load() {
				n.logger.Debug("Ignoring negotiation input after connect", "error", err)
				continue
			}
			n.fail(err)
			return
		}
	}
}

// trickleLoop forwards locally discovered candidates to the remote side,
// strictly after the local description has been sent.
func (n *negotiation) trickleLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	select {
	case <-n.localSent:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case candidate := <-n.engine.Candidates():
			if err := n.send(ctx, protocol.NewCandidate(candidate)); err != nil {
				if !n.connected.Load() && ctx.Err() == nil {
					n.fail(fmt.Errorf("%w: sending candidate: %v", ErrProtocol, err))
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (n *negotiation) handle(ctx context.Context, msg *protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	switch {
	case msg.Description != nil:
		return n.handleDescription(ctx, *msg.Description)
	case msg.Candidate != nil:
		return n.handleCandidate(*msg.Candidate)
	default:
		return fmt.Errorf("%w: remote terminated negotiation: %s", ErrProtocol, msg.Error.Message)
	}
}

func (n *negotiation) handleDescription(ctx context.Context, desc protocol.SessionDescription) error {
	if n.remoteApplied {
		return fmt.Errorf("%w: received a second session description", ErrProtocol)
	}
	if n.role == RoleOfferer && desc.Type != protocol.SDPTypeAnswer {
		return fmt.Errorf("%w: offerer received %q description", ErrProtocol, desc.Type)
	}
	if n.role == RoleAnswerer && desc.Type != protocol.SDPTypeOffer {
		return fmt.Errorf("%w: answerer received %q description", ErrProtocol, desc.Type)
	}

	if err := n.engine.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	n.remoteApplied = true
	n.logger.Debug("Remote description applied", "type", string(desc.Type))

	if n.role == RoleAnswerer {
		answer, err := n.engine.CreateAnswer()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
		}
		if err := n.engine.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
		}
		if err := n.send(ctx, protocol.NewDescription(answer)); err != nil {
			return fmt.Errorf("%w: sending answer: %v", ErrProtocol, err)
		}
		n.markLocalSent()
	}

	// Flush candidates that arrived ahead of the description, in receipt
	// order.
	for _, candidate := range n.pending {
		if err := n.engine.AddCandidate(candidate); err != nil {
			return fmt.Errorf("%w: buffered candidate rejected: %v", ErrProtocol, err)
		}
	}
	n.pending = nil
	return nil
}

func (n *negotiation) handleCandidate(candidate protocol.Candidate) error {
	if !n.remoteApplied {
		n.pending = append(n.pending, candidate)
		n.logger.Debug("Buffered early candidate", "buffered", len(n.pending))
		return nil
	}

	if err := n.engine.AddCandidate(candidate); err != nil {
		if n.connected.Load() {
			n.logger.Debug("Ignoring late candidate", "error", err)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}

func (n *negotiation) send(ctx context.Context, msg *protocol.Message) error {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	return n.stream.Send(ctx, msg)
}

func (n *negotiation) markLocalSent() {
	n.localOnce.Do(func() { close(n.localSent) })
}

func (n *negotiation) fail(err error) {
	select {
	case n.failure <- err:
	default:
	}
}
