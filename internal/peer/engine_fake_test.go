package peer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
)

// fakeEngine is a scriptable in-memory Engine. Tests feed local candidates
// and state transitions through its channels and inspect the order of
// operations applied to it.
type fakeEngine struct {
	mu           sync.Mutex
	localDesc    *protocol.SessionDescription
	remoteDesc   *protocol.SessionDescription
	events       []string
	candidateErr error

	candidates chan protocol.Candidate
	states     chan State

	pingHang atomic.Bool
	closed   atomic.Bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		candidates: make(chan protocol.Candidate, 16),
		states:     make(chan State, 16),
	}
}

func (e *fakeEngine) CreateOffer() (protocol.SessionDescription, error) {
	return protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (e *fakeEngine) CreateAnswer() (protocol.SessionDescription, error) {
	return protocol.SessionDescription{Type: protocol.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (e *fakeEngine) SetLocalDescription(desc protocol.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localDesc = &desc
	e.events = append(e.events, "local-description")
	return nil
}

func (e *fakeEngine) SetRemoteDescription(desc protocol.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteDesc = &desc
	e.events = append(e.events, "remote-description")
	return nil
}

func (e *fakeEngine) AddCandidate(candidate protocol.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.candidateErr != nil {
		e.events = append(e.events, "candidate-rejected:"+candidate.Candidate)
		return e.candidateErr
	}
	e.events = append(e.events, "candidate:"+candidate.Candidate)
	return nil
}

// failCandidates makes AddCandidate reject until cleared with nil.
func (e *fakeEngine) failCandidates(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidateErr = err
}

func (e *fakeEngine) Candidates() <-chan protocol.Candidate {
	return e.candidates
}

func (e *fakeEngine) States() <-chan State {
	return e.states
}

func (e *fakeEngine) Ping(ctx context.Context) (time.Duration, error) {
	if e.closed.Load() {
		return 0, ErrNotConnected
	}
	// With pingHang set the probe never gets an echo.
	if e.pingHang.Load() {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return time.Millisecond, nil
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

// emit pushes a state transition as the real engine's callback would.
func (e *fakeEngine) emit(state State) {
	e.states <- state
}

func (e *fakeEngine) eventLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	log := make([]string, len(e.events))
	copy(log, e.events)
	return log
}

func (e *fakeEngine) remoteDescription() *protocol.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteDesc
}

// waitForEvents polls until the engine has recorded at least n operations.
func (e *fakeEngine) waitForEvents(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(e.eventLog()) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
