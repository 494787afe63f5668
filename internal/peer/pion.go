package peer

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
)

// Liveness probe framing on the ping data channel: one kind byte followed
// by a big-endian sequence number.
const (
	frameProbe byte = 0x01
	frameEcho  byte = 0x02

	pingFrameSize = 9
)

// pingChannelID is the pre-negotiated data channel id both sides create
// for liveness probes. Creating it up front also guarantees the SDP offer
// carries a data section.
const pingChannelID uint16 = 0

// Compile-time interface check.
var _ Engine = (*PionEngine)(nil)

// EngineConfig configures a pion-backed engine.
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
}

// PionEngine adapts a pion/webrtc PeerConnection to the Engine interface.
type PionEngine struct {
	pc     *webrtc.PeerConnection
	ping   *webrtc.DataChannel
	logger *slog.Logger

	candidates chan protocol.Candidate
	states     chan State

	pingOpen chan struct{}
	openOnce sync.Once

	seq       atomic.Uint64
	waitersMu sync.Mutex
	waiters   map[uint64]chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewEngine creates a PeerConnection configured with the given ICE servers
// and wires up the ping channel and the candidate/state subscriptions.
// Loopback candidates are enabled so same-host peers can connect without
// any external ICE server.
func NewEngine(cfg EngineConfig) (*PionEngine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: cfg.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	e := &PionEngine{
		pc:         pc,
		logger:     logger,
		candidates: make(chan protocol.Candidate, 16),
		states:     make(chan State, 16),
		pingOpen:   make(chan struct{}),
		waiters:    make(map[uint64]chan struct{}),
		done:       make(chan struct{}),
	}

	negotiated := true
	channelID := pingChannelID
	ping, err := pc.CreateDataChannel("ping", &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &channelID,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("creating ping channel: %w", err)
	}
	e.ping = ping

	ping.OnOpen(func() {
		e.openOnce.Do(func() { close(e.pingOpen) })
	})
	ping.OnMessage(e.handlePingFrame)

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// Gathering finished.
			return
		}
		init := candidate.ToJSON()
		select {
		case e.candidates <- protocol.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}:
		case <-e.done:
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		select {
		case e.states <- stateFromPion(state):
		case <-e.done:
		}
	})

	return e, nil
}

func (e *PionEngine) CreateOffer() (protocol.SessionDescription, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("creating offer: %w", err)
	}
	return protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: offer.SDP}, nil
}

func (e *PionEngine) CreateAnswer() (protocol.SessionDescription, error) {
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("creating answer: %w", err)
	}
	return protocol.SessionDescription{Type: protocol.SDPTypeAnswer, SDP: answer.SDP}, nil
}

func (e *PionEngine) SetLocalDescription(desc protocol.SessionDescription) error {
	sd, err := sessionDescriptionToPion(desc)
	if err != nil {
		return err
	}
	if err := e.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	return nil
}

func (e *PionEngine) SetRemoteDescription(desc protocol.SessionDescription) error {
	sd, err := sessionDescriptionToPion(desc)
	if err != nil {
		return err
	}
	if err := e.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

func (e *PionEngine) AddCandidate(candidate protocol.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}
	if err := e.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding remote candidate: %w", err)
	}
	return nil
}

func (e *PionEngine) Candidates() <-chan protocol.Candidate {
	return e.candidates
}

func (e *PionEngine) States() <-chan State {
	return e.states
}

// Ping writes a probe frame and waits for the matching echo.
func (e *PionEngine) Ping(ctx context.Context) (time.Duration, error) {
	select {
	case <-e.pingOpen:
	case <-e.done:
		return 0, ErrNotConnected
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	seq := e.seq.Add(1)
	echo := make(chan struct{})

	e.waitersMu.Lock()
	e.waiters[seq] = echo
	e.waitersMu.Unlock()

	defer func() {
		e.waitersMu.Lock()
		delete(e.waiters, seq)
		e.waitersMu.Unlock()
	}()

	start := time.Now()
	if err := e.ping.Send(pingFrame(frameProbe, seq)); err != nil {
		return 0, fmt.Errorf("sending probe: %w", err)
	}

	select {
	case <-echo:
		return time.Since(start), nil
	case <-e.done:
		return 0, ErrNotConnected
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *PionEngine) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.closeErr = e.pc.Close()
	})
	return e.closeErr
}

func (e *PionEngine) handlePingFrame(msg webrtc.DataChannelMessage) {
	if len(msg.Data) != pingFrameSize {
		e.logger.Debug("Dropping malformed ping frame", "size", len(msg.Data))
		return
	}

	seq := binary.BigEndian.Uint64(msg.Data[1:])
	switch msg.Data[0] {
	case frameProbe:
		if err := e.ping.Send(pingFrame(frameEcho, seq)); err != nil {
			e.logger.Debug("Failed to echo probe", "seq", seq, "error", err)
		}
	case frameEcho:
		e.waitersMu.Lock()
		if waiter, ok := e.waiters[seq]; ok {
			delete(e.waiters, seq)
			close(waiter)
		}
		e.waitersMu.Unlock()
	}
}

func pingFrame(kind byte, seq uint64) []byte {
	frame := make([]byte, pingFrameSize)
	frame[0] = kind
	binary.BigEndian.PutUint64(frame[1:], seq)
	return frame
}

func sessionDescriptionToPion(desc protocol.SessionDescription) (webrtc.SessionDescription, error) {
	var sdpType webrtc.SDPType
	switch desc.Type {
	case protocol.SDPTypeOffer:
		sdpType = webrtc.SDPTypeOffer
	case protocol.SDPTypeAnswer:
		sdpType = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unsupported description type %q", ErrProtocol, desc.Type)
	}
	return webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}, nil
}

func stateFromPion(state webrtc.PeerConnectionState) State {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}
