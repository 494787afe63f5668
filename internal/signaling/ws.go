package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
)

// defaultWriteTimeout bounds a Send whose context carries no deadline, so
// a stalled peer cannot block the writer forever.
const defaultWriteTimeout = 10 * time.Second

// wsStream adapts a WebSocket connection to the Stream interface. A
// background read pump feeds incoming messages into a channel so Recv can
// honor context cancellation; writes are serialized by a mutex.
type wsStream struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	incoming chan *protocol.Message
	readErr  error // set by the pump before incoming is closed

	closed    chan struct{}
	closeOnce sync.Once
}

func newWSStream(conn *websocket.Conn) *wsStream {
	s := &wsStream{
		conn:     conn,
		incoming: make(chan *protocol.Message, pipeBuffer),
		closed:   make(chan struct{}),
	}
	go s.readPump()
	return s
}

// readPump moves frames off the WebSocket until the connection dies.
func (s *wsStream) readPump() {
	defer close(s.incoming)

	for {
		var msg protocol.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.readErr = fmt.Errorf("%w: %v", ErrClosed, err)
			return
		}

		select {
		case s.incoming <- &msg:
		case <-s.closed:
			return
		}
	}
}

func (s *wsStream) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (s *wsStream) Recv(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg, ok := <-s.incoming:
		if !ok {
			if s.readErr != nil {
				return nil, s.readErr
			}
			return nil, ErrClosed
		}
		return msg, nil
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			closeControlDeadline(),
		)
		_ = s.conn.Close()
	})
	return nil
}

// DialWS connects to a WSServer at the given URL (e.g.
// "ws://host:4444/negotiate") and returns the negotiation stream.
func DialWS(ctx context.Context, url string) (Stream, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing signaling server %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return newWSStream(conn), nil
}
