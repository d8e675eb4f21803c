package rtc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrUnknownPayload = errors.New("unknown negotiation payload")

const (
	payloadOffer     = "offer"
	payloadAnswer    = "answer"
	payloadCandidate = "candidate"
)

// Payload is one trickle negotiation message: a session description or a
// single ICE candidate.
type Payload struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func encodeDescription(desc webrtc.SessionDescription) (json.RawMessage, error) {
	return json.Marshal(Payload{Type: desc.Type.String(), SDP: desc.SDP})
}

func encodeCandidate(c webrtc.ICECandidateInit) (json.RawMessage, error) {
	return json.Marshal(Payload{Type: payloadCandidate, Candidate: &c})
}

// DecodePayload parses and validates a negotiation payload.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	switch p.Type {
	case payloadOffer, payloadAnswer:
		if p.SDP == "" {
			return Payload{}, fmt.Errorf("%s without sdp: %w", p.Type, ErrUnknownPayload)
		}
	case payloadCandidate:
		if p.Candidate == nil {
			return Payload{}, fmt.Errorf("candidate without body: %w", ErrUnknownPayload)
		}
	default:
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownPayload, p.Type)
	}
	return p, nil
}

func (p Payload) description() webrtc.SessionDescription {
	t := webrtc.SDPTypeOffer
	if p.Type == payloadAnswer {
		t = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: t, SDP: p.SDP}
}
