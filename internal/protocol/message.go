// Package protocol defines the messages exchanged over a signaling stream
// while two peers negotiate a direct connection.
package protocol

import "errors"

// SDPType identifies which side of the exchange a session description
// belongs to.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription carries an SDP blob created by one peer's engine.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// Candidate is one ICE candidate discovered by a peer's engine, in the
// same shape browsers and pion use for ICECandidateInit.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ErrorDetail tells the remote side why its peer is giving up on the
// negotiation.
type ErrorDetail struct {
	Message string `json:"message"`
}

// Message is one negotiation message. Exactly one field is populated.
type Message struct {
	Description *SessionDescription `json:"description,omitempty"`
	Candidate   *Candidate          `json:"candidate,omitempty"`
	Error       *ErrorDetail        `json:"error,omitempty"`
}

var (
	ErrNoVariant       = errors.New("protocol: message has no variant set")
	ErrMultipleVariant = errors.New("protocol: message has multiple variants set")
	ErrBadDescription  = errors.New("protocol: invalid session description")
	ErrBadCandidate    = errors.New("protocol: invalid candidate")
	ErrBadError        = errors.New("protocol: empty error detail")
)

// NewDescription wraps a session description as a Message.
func NewDescription(desc SessionDescription) *Message {
	return &Message{Description: &desc}
}

// NewCandidate wraps an ICE candidate as a Message.
func NewCandidate(candidate Candidate) *Message {
	return &Message{Candidate: &candidate}
}

// NewError wraps a terminal error as a Message.
func NewError(message string) *Message {
	return &Message{Error: &ErrorDetail{Message: message}}
}

// Validate checks the exactly-one-variant invariant and that the populated
// variant carries a usable payload.
func (m *Message) Validate() error {
	count := 0
	if m.Description != nil {
		count++
	}
	if m.Candidate != nil {
		count++
	}
	if m.Error != nil {
		count++
	}

	switch {
	case count == 0:
		return ErrNoVariant
	case count > 1:
		return ErrMultipleVariant
	}

	switch {
	case m.Description != nil:
		if m.Description.SDP == "" {
			return ErrBadDescription
		}
		if m.Description.Type != SDPTypeOffer && m.Description.Type != SDPTypeAnswer {
			return ErrBadDescription
		}
	case m.Candidate != nil:
		if m.Candidate.Candidate == "" {
			return ErrBadCandidate
		}
	case m.Error != nil:
		if m.Error.Message == "" {
			return ErrBadError
		}
	}

	return nil
}
