package signaling

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// NegotiatePath is the HTTP path a WSServer upgrades negotiation streams on.
const NegotiatePath = "/negotiate"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSServer accepts WebSocket negotiation streams. It implements Transport.
type WSServer struct {
	listener net.Listener
	streams  chan Stream

	closed    chan struct{}
	closeOnce sync.Once
}

// NewWSServer starts listening on addr (":0" picks a free port).
func NewWSServer(addr string) (*WSServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("starting signaling listener: %w", err)
	}

	s := &WSServer{
		listener: listener,
		streams:  make(chan Stream, pipeBuffer),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(NegotiatePath, s.handleNegotiate)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return s, nil
}

func (s *WSServer) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	stream := newWSStream(conn)
	select {
	case s.streams <- stream:
	case <-s.closed:
		_ = stream.Close()
	}
}

// Addr returns the bound listen address, e.g. "127.0.0.1:4444".
func (s *WSServer) Addr() string {
	return s.listener.Addr().String()
}

// URL returns the ws:// URL dialers should use.
func (s *WSServer) URL() string {
	return "ws://" + s.Addr() + NegotiatePath
}

func (s *WSServer) Accept(ctx context.Context) (Stream, error) {
	select {
	case stream := <-s.streams:
		return stream, nil
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *WSServer) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.listener.Close()

		// Streams already queued but never accepted would leak their
		// read pumps otherwise.
		for {
			select {
			case stream := <-s.streams:
				_ = stream.Close()
			default:
				return
			}
		}
	})
	return nil
}

func closeControlDeadline() time.Time {
	return time.Now().Add(time.Second)
}
