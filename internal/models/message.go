package models

import "encoding/json"

// EventType names a message on either websocket.
type EventType string

const (
	EventJoin             EventType = "join"
	EventSignal           EventType = "signal"
	EventVerified         EventType = "verified"
	EventError            EventType = "error"
	EventPeerDisconnected EventType = "peer-disconnected"
	EventMatched          EventType = "matched"
)

// SignalEnvelope is an outbound message to the signaling relay. Join
// envelopes carry Role, signal envelopes carry Data.
type SignalEnvelope struct {
	Event    EventType       `json:"event"`
	RoomCode string          `json:"room_code"`
	Target   string          `json:"target"`
	From     string          `json:"from,omitempty"`
	Role     Role            `json:"role,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewJoinEnvelope builds the envelope that binds from to roomCode on the relay.
func NewJoinEnvelope(roomCode, target, from string, role Role) SignalEnvelope {
	return SignalEnvelope{
		Event:    EventJoin,
		RoomCode: roomCode,
		Target:   target,
		From:     from,
		Role:     role,
	}
}

// NewSignalEnvelope wraps a negotiation payload for target.
func NewSignalEnvelope(roomCode, target, from string, data json.RawMessage) SignalEnvelope {
	return SignalEnvelope{
		Event:    EventSignal,
		RoomCode: roomCode,
		Target:   target,
		From:     from,
		Data:     data,
	}
}

// RelayMessage is an inbound message from the signaling relay.
type RelayMessage struct {
	Event    EventType       `json:"event"`
	RoomCode string          `json:"room_code,omitempty"`
	From     string          `json:"from,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// MatchMessage is an inbound message from the matching service.
type MatchMessage struct {
	Event     EventType `json:"event"`
	RoomCode  string    `json:"room_code,omitempty"`
	Initiator bool      `json:"initiator"`
}

// RegisterRequest is the body of POST /registerForMatching.
type RegisterRequest struct {
	Name string `json:"name" binding:"required"`
}

// RegisterResponse is returned by POST /registerForMatching.
type RegisterResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}
