package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testOptions() *ConnOptions {
	return &ConnOptions{
		Logger:             slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})),
		NegotiationTimeout: 5 * time.Second,
		PingTimeout:        time.Second,
	}
}

type negotiateResult struct {
	conn *Conn
	err  error
}

func startNegotiate(role Role, engine Engine, stream signaling.Stream, opts *ConnOptions) <-chan negotiateResult {
	result := make(chan negotiateResult, 1)
	go func() {
		conn, err := Negotiate(context.Background(), role, engine, stream, opts)
		result <- negotiateResult{conn, err}
	}()
	return result
}

func recvOrFatal(t *testing.T, stream signaling.Stream) *protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := stream.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	return msg
}

func sendOrFatal(t *testing.T, stream signaling.Stream, msg *protocol.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stream.Send(ctx, msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func TestOffererSendsDescriptionBeforeCandidates(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()
	defer func() { _ = remote.Close() }()

	result := startNegotiate(RoleOfferer, engine, local, testOptions())

	first := recvOrFatal(t, remote)
	if first.Description == nil || first.Description.Type != protocol.SDPTypeOffer {
		t.Fatalf("First message must be the offer, got %+v", first)
	}

	// Local candidates discovered after the offer go out as candidates.
	engine.candidates <- protocol.Candidate{Candidate: "local-1"}
	second := recvOrFatal(t, remote)
	if second.Candidate == nil || second.Candidate.Candidate != "local-1" {
		t.Fatalf("Expected trickled candidate, got %+v", second)
	}

	sendOrFatal(t, remote, protocol.NewDescription(protocol.SessionDescription{
		Type: protocol.SDPTypeAnswer,
		SDP:  "v=0 remote-answer",
	}))
	sendOrFatal(t, remote, protocol.NewCandidate(protocol.Candidate{Candidate: "remote-1"}))

	// local-description, remote-description, candidate:remote-1
	if !engine.waitForEvents(3, 2*time.Second) {
		t.Fatalf("Engine never saw the remote candidate, events: %v", engine.eventLog())
	}
	engine.emit(StateConnected)

	res := <-result
	if res.err != nil {
		t.Fatalf("Negotiate failed: %v", res.err)
	}
	defer func() { _ = res.conn.Close() }()

	if desc := engine.remoteDescription(); desc == nil || desc.Type != protocol.SDPTypeAnswer {
		t.Errorf("Remote description not applied: %+v", desc)
	}
}

func TestAnswererBuffersCandidatesUntilDescription(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()
	defer func() { _ = remote.Close() }()

	// A local candidate discovered before anything was sent must wait for
	// the answer to go out first.
	engine.candidates <- protocol.Candidate{Candidate: "local-early"}

	result := startNegotiate(RoleAnswerer, engine, local, testOptions())

	// Candidates ahead of the offer are buffered, not applied.
	sendOrFatal(t, remote, protocol.NewCandidate(protocol.Candidate{Candidate: "early-1"}))
	sendOrFatal(t, remote, protocol.NewCandidate(protocol.Candidate{Candidate: "early-2"}))
	sendOrFatal(t, remote, protocol.NewDescription(protocol.SessionDescription{
		Type: protocol.SDPTypeOffer,
		SDP:  "v=0 remote-offer",
	}))

	first := recvOrFatal(t, remote)
	if first.Description == nil || first.Description.Type != protocol.SDPTypeAnswer {
		t.Fatalf("First outgoing message must be the answer, got %+v", first)
	}

	second := recvOrFatal(t, remote)
	if second.Candidate == nil || second.Candidate.Candidate != "local-early" {
		t.Fatalf("Expected gated local candidate after the answer, got %+v", second)
	}

	// remote-description, candidate:early-1, candidate:early-2,
	// local-description in some position before the candidates flush.
	if !engine.waitForEvents(4, 2*time.Second) {
		t.Fatalf("Engine missing events: %v", engine.eventLog())
	}

	events := engine.eventLog()
	indexOf := func(event string) int {
		for i, e := range events {
			if e == event {
				return i
			}
		}
		return -1
	}
	remoteIdx := indexOf("remote-description")
	firstCandidate := indexOf("candidate:early-1")
	secondCandidate := indexOf("candidate:early-2")
	if remoteIdx == -1 || firstCandidate == -1 || secondCandidate == -1 {
		t.Fatalf("Missing events: %v", events)
	}
	if !(remoteIdx < firstCandidate && firstCandidate < secondCandidate) {
		t.Errorf("Candidates must flush after the description, in order: %v", events)
	}

	engine.emit(StateConnected)
	res := <-result
	if res.err != nil {
		t.Fatalf("Negotiate failed: %v", res.err)
	}
	_ = res.conn.Close()
}

func TestSecondDescriptionAborts(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()
	defer func() { _ = remote.Close() }()

	result := startNegotiate(RoleAnswerer, engine, local, testOptions())

	offer := protocol.NewDescription(protocol.SessionDescription{
		Type: protocol.SDPTypeOffer,
		SDP:  "v=0 remote-offer",
	})
	sendOrFatal(t, remote, offer)
	recvOrFatal(t, remote) // the answer
	sendOrFatal(t, remote, offer)

	res := <-result
	if !errors.Is(res.err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", res.err)
	}

	// The aborting side tells its peer before closing the stream.
	notice := recvOrFatal(t, remote)
	if notice.Error == nil {
		t.Errorf("Expected terminal error message, got %+v", notice)
	}
}

func TestRemoteErrorAborts(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()
	defer func() { _ = remote.Close() }()

	result := startNegotiate(RoleAnswerer, engine, local, testOptions())
	sendOrFatal(t, remote, protocol.NewError("remote gave up"))

	res := <-result
	if !errors.Is(res.err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", res.err)
	}
}

func TestMalformedMessageAborts(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()
	defer func() { _ = remote.Close() }()

	result := startNegotiate(RoleAnswerer, engine, local, testOptions())
	sendOrFatal(t, remote, &protocol.Message{})

	res := <-result
	if !errors.Is(res.err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", res.err)
	}
}

func TestStreamClosedBeforeConnectAborts(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()

	result := startNegotiate(RoleAnswerer, engine, local, testOptions())
	_ = remote.Close()

	res := <-result
	if !errors.Is(res.err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", res.err)
	}
}

func TestNegotiationTimeout(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()
	defer func() { _ = remote.Close() }()

	opts := testOptions()
	opts.NegotiationTimeout = 100 * time.Millisecond

	start := time.Now()
	_, err := Negotiate(context.Background(), RoleAnswerer, engine, local, opts)
	if !errors.Is(err, ErrNegotiationTimeout) {
		t.Fatalf("Expected ErrNegotiationTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Timeout took %s, expected prompt return", elapsed)
	}
	if !engine.closed.Load() {
		t.Error("Engine not released after timeout")
	}
}

func TestOwnerCancellation(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()
	defer func() { _ = remote.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan negotiateResult, 1)
	go func() {
		conn, err := Negotiate(ctx, RoleAnswerer, engine, local, testOptions())
		result <- negotiateResult{conn, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	res := <-result
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", res.err)
	}
}

func TestStreamInputAfterConnectIsNotFatal(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()
	defer func() { _ = remote.Close() }()

	result := startNegotiate(RoleOfferer, engine, local, testOptions())

	first := recvOrFatal(t, remote)
	if first.Description == nil {
		t.Fatalf("Expected offer, got %+v", first)
	}
	sendOrFatal(t, remote, protocol.NewDescription(protocol.SessionDescription{
		Type: protocol.SDPTypeAnswer,
		SDP:  "v=0 remote-answer",
	}))
	if !engine.waitForEvents(2, 2*time.Second) {
		t.Fatalf("Answer never applied, events: %v", engine.eventLog())
	}
	engine.emit(StateConnected)

	res := <-result
	if res.err != nil {
		t.Fatalf("Negotiate failed: %v", res.err)
	}
	conn := res.conn
	defer func() { _ = conn.Close() }()

	// A rejected candidate and a malformed message after the connected
	// transition must not kill the connection.
	engine.failCandidates(errors.New("stale candidate"))
	sendOrFatal(t, remote, protocol.NewCandidate(protocol.Candidate{Candidate: "late-rejected"}))
	if !engine.waitForEvents(3, 2*time.Second) {
		t.Fatalf("Rejected candidate never reached the engine, events: %v", engine.eventLog())
	}
	engine.failCandidates(nil)

	sendOrFatal(t, remote, &protocol.Message{})
	sendOrFatal(t, remote, protocol.NewCandidate(protocol.Candidate{Candidate: "late-applied"}))

	// The stream is read in order, so the applied candidate proves the
	// malformed message was survived.
	if !engine.waitForEvents(4, 2*time.Second) {
		t.Fatalf("Reader stopped after post-connect input, events: %v", engine.eventLog())
	}
	for _, event := range engine.eventLog() {
		if event == "candidate:late-rejected" {
			t.Errorf("Rejected candidate was applied: %v", engine.eventLog())
		}
	}

	if _, err := conn.Ping(); err != nil {
		t.Errorf("Ping failed after post-connect stream noise: %v", err)
	}
}

func TestAbortPromptWhenTricklerBlocked(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()
	defer func() { _ = remote.Close() }()

	result := startNegotiate(RoleOfferer, engine, local, testOptions())

	first := recvOrFatal(t, remote)
	if first.Description == nil {
		t.Fatalf("Expected offer, got %+v", first)
	}

	// The remote side stops reading; enough local candidates fill the
	// stream's buffer and wedge the trickler mid-send.
	for i := 0; i < 17; i++ {
		engine.candidates <- protocol.Candidate{Candidate: fmt.Sprintf("wedge-%d", i)}
	}
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	sendOrFatal(t, remote, &protocol.Message{})

	res := <-result
	if !errors.Is(res.err, ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", res.err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Abort took %s with a blocked trickler", elapsed)
	}
}

func TestEngineFailureAborts(t *testing.T) {
	engine := newFakeEngine()
	local, remote := signaling.NewPipe()
	defer func() { _ = remote.Close() }()

	result := startNegotiate(RoleAnswerer, engine, local, testOptions())
	engine.emit(StateFailed)

	res := <-result
	if !errors.Is(res.err, ErrNegotiationFailed) {
		t.Fatalf("Expected ErrNegotiationFailed, got %v", res.err)
	}
}
