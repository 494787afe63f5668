package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/rudransh-shrivastava/peerlink/internal/peer"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
)

// Listener answers negotiations on every signaling stream its transport
// accepts. Each inbound stream gets its own negotiation; connections are
// handed out by Accept as they become ready.
type Listener struct {
	transport signaling.Transport
	opts      *peer.ConnOptions
	logger    *slog.Logger

	conns chan *peer.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen starts answering on the given transport. It returns immediately;
// negotiations run in the background until the listener is closed.
func Listen(transport signaling.Transport, opts *peer.ConnOptions) (*Listener, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil signaling transport", ErrInvalidArgument)
	}

	logger := slog.Default()
	if opts != nil && opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		transport: transport,
		opts:      opts,
		logger:    logger,
		conns:     make(chan *peer.Conn),
		ctx:       ctx,
		cancel:    cancel,
	}

	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) iceServers() []webrtc.ICEServer {
	if l.opts == nil {
		return nil
	}
	return l.opts.ICEServers
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		stream, err := l.transport.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil && !errors.Is(err, signaling.ErrClosed) {
				l.logger.Error("Transport accept failed", "err", err)
			}
			return
		}

		l.wg.Add(1)
		go l.negotiate(uuid.NewString(), stream)
	}
}

// negotiate answers a single inbound stream. Failures are logged and the
// stream dropped; only successful connections reach Accept.
func (l *Listener) negotiate(id string, stream signaling.Stream) {
	defer l.wg.Done()

	logger := l.logger.With("negotiation", id)

	engine, err := peer.NewEngine(peer.EngineConfig{
		ICEServers: l.iceServers(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("Creating engine failed", "err", err)
		_ = stream.Close()
		return
	}

	var opts peer.ConnOptions
	if l.opts != nil {
		opts = *l.opts
	}
	opts.Logger = logger

	conn, err := peer.Negotiate(l.ctx, peer.RoleAnswerer, engine, stream, &opts)
	if err != nil {
		logger.Warn("Negotiation dropped", "err", err)
		return
	}

	select {
	case l.conns <- conn:
		logger.Info("Connection ready")
	case <-l.ctx.Done():
		_ = conn.Close()
	}
}

// Accept blocks until the next negotiation completes and returns its
// connection. Connections are delivered in completion order, not in the
// order their streams arrived.
func (l *Listener) Accept() (*peer.Conn, error) {
	select {
	case <-l.ctx.Done():
		return nil, ErrListenerClosed
	default:
	}

	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.ctx.Done():
		return nil, ErrListenerClosed
	}
}

// Close stops accepting, cancels every in-flight negotiation and waits for
// them to wind down. Safe to call concurrently and repeatedly.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		_ = l.transport.Close()
		l.logger.Debug("Listener closed")
	})

	l.wg.Wait()
	return nil
}
