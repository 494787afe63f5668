package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
)

// Conn is an established peer connection. It owns the engine and, for
// teardown signaling, the remainder of the negotiation stream's lifetime.
type Conn struct {
	engine Engine
	stream signaling.Stream
	logger *slog.Logger

	cancel      context.CancelFunc
	wg          *sync.WaitGroup
	pingTimeout time.Duration

	dead      atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

// newConn takes ownership of a successfully negotiated engine and stream.
// The WaitGroup tracks the negotiation's background goroutines; Close
// awaits them, so nothing outlives the connection.
func newConn(engine Engine, stream signaling.Stream, logger *slog.Logger, cancel context.CancelFunc, wg *sync.WaitGroup, pingTimeout time.Duration) *Conn {
	c := &Conn{
		engine:      engine,
		stream:      stream,
		logger:      logger,
		cancel:      cancel,
		wg:          wg,
		pingTimeout: pingTimeout,
		closed:      make(chan struct{}),
	}

	c.wg.Add(1)
	go c.watchState()
	return c
}

// watchState keeps draining engine state transitions after the
// negotiation's main loop has returned, and marks the connection dead when
// the engine fails or closes on its own.
func (c *Conn) watchState() {
	defer c.wg.Done()

	for {
		select {
		case state := <-c.engine.States():
			switch state {
			case StateFailed, StateClosed:
				if !c.dead.Swap(true) {
					c.logger.Info("Peer connection lost", "state", state.String())
				}
			default:
				c.logger.Debug("Peer connection state change", "state", state.String())
			}
		case <-c.closed:
			return
		}
	}
}

// Ping sends a liveness probe and returns the echo round-trip time.
func (c *Conn) Ping() (time.Duration, error) {
	if c.dead.Load() {
		return 0, ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.pingTimeout)
	defer cancel()

	rtt, err := c.engine.Ping(ctx)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return 0, fmt.Errorf("%w: no echo within %s", ErrUnresponsive, c.pingTimeout)
		case c.dead.Load() || errors.Is(err, ErrNotConnected):
			return 0, ErrNotConnected
		default:
			return 0, fmt.Errorf("liveness probe: %w", err)
		}
	}

	c.logger.Debug("Liveness probe answered", "rtt", rtt)
	return rtt, nil
}

// Close releases the engine and the remaining negotiation stream and waits
// for every background goroutine tied to this connection to finish. Safe
// to call concurrently and repeatedly.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.dead.Store(true)
		close(c.closed)
		c.cancel()
		if c.stream != nil {
			_ = c.stream.Close()
		}
		_ = c.engine.Close()
		c.logger.Debug("Connection closed")
	})

	c.wg.Wait()
	return nil
}
