package signaling

import (
	"context"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
)

const pipeBuffer = 16

// pipeStream is one end of an in-memory stream pair.
type pipeStream struct {
	send chan<- *protocol.Message
	recv <-chan *protocol.Message

	local     chan struct{} // closed by this end's Close
	remote    chan struct{} // closed by the peer end's Close
	closeOnce sync.Once
}

// NewPipe returns two connected streams. Messages written to one end are
// read from the other, in order. Closing either end unblocks both.
func NewPipe() (Stream, Stream) {
	aToB := make(chan *protocol.Message, pipeBuffer)
	bToA := make(chan *protocol.Message, pipeBuffer)
	closedA := make(chan struct{})
	closedB := make(chan struct{})

	a := &pipeStream{send: aToB, recv: bToA, local: closedA, remote: closedB}
	b := &pipeStream{send: bToA, recv: aToB, local: closedB, remote: closedA}
	return a, b
}

func (p *pipeStream) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-p.local:
		return ErrClosed
	case <-p.remote:
		return ErrClosed
	default:
	}

	select {
	case p.send <- msg:
		return nil
	case <-p.local:
		return ErrClosed
	case <-p.remote:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeStream) Recv(ctx context.Context) (*protocol.Message, error) {
	// Drain buffered messages before reporting a remote close.
	select {
	case msg := <-p.recv:
		return msg, nil
	default:
	}

	select {
	case msg := <-p.recv:
		return msg, nil
	case <-p.local:
		return nil, ErrClosed
	case <-p.remote:
		// The peer may have sent and closed in quick succession.
		select {
		case msg := <-p.recv:
			return msg, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeStream) Close() error {
	p.closeOnce.Do(func() {
		close(p.local)
	})
	return nil
}

// PipeTransport is an in-process Transport. Dial creates a stream pair,
// queues one end for Accept, and returns the other.
type PipeTransport struct {
	streams   chan Stream
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPipeTransport creates an in-process transport.
func NewPipeTransport() *PipeTransport {
	return &PipeTransport{
		streams: make(chan Stream, pipeBuffer),
		closed:  make(chan struct{}),
	}
}

// Dial opens a new stream through the transport. The paired end is
// delivered to an Accept caller.
func (t *PipeTransport) Dial(ctx context.Context) (Stream, error) {
	local, remote := NewPipe()

	select {
	case t.streams <- remote:
		return local, nil
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *PipeTransport) Accept(ctx context.Context) (Stream, error) {
	select {
	case stream := <-t.streams:
		return stream, nil
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *PipeTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return nil
}
