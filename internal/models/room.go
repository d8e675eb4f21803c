package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RoomCodeSeparator joins the two member names of a room code.
const RoomCodeSeparator = "_"

// ErrInvalidRole is returned when a role string is neither initiator nor
// responder.
var ErrInvalidRole = errors.New("invalid role")

// Role is the side a client plays in the offer/answer exchange.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// RoleFromInitiator maps the matching service's boolean flag.
func RoleFromInitiator(initiator bool) Role {
	if initiator {
		return RoleInitiator
	}
	return RoleResponder
}

// ParseRole validates s as a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleInitiator, RoleResponder:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

func (r Role) String() string { return string(r) }

// UnmarshalText rejects anything but the two known roles. An empty value
// decodes to the zero Role so envelopes without a role still parse.
func (r *Role) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*r = ""
		return nil
	}
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Identity is the name a client registered under. It routes messages on
// both the matching service and the relay.
type Identity struct {
	Name string
}

// MatchAssignment is one pairing handed out by the matching service.
type MatchAssignment struct {
	RoomCode string
	PeerName string
	Role     Role
}

// NewMatchAssignment builds the assignment for self out of a matched event.
func NewMatchAssignment(msg MatchMessage, self Identity) (MatchAssignment, error) {
	if msg.RoomCode == "" {
		return MatchAssignment{}, errors.New("matched event without room_code")
	}
	peer := PeerNameFromRoomCode(msg.RoomCode, self.Name)
	if peer == "" {
		return MatchAssignment{}, fmt.Errorf("room code %q names no peer for %q", msg.RoomCode, self.Name)
	}
	return MatchAssignment{
		RoomCode: msg.RoomCode,
		PeerName: peer,
		Role:     RoleFromInitiator(msg.Initiator),
	}, nil
}

// PeerNameFromRoomCode returns the first member of roomCode that is not self.
func PeerNameFromRoomCode(roomCode, self string) string {
	for _, part := range strings.Split(roomCode, RoomCodeSeparator) {
		if part != "" && part != self {
			return part
		}
	}
	return ""
}

// RoomCodeFor is the code the matching service assigns to a pair.
func RoomCodeFor(initiator, responder string) string {
	return initiator + RoomCodeSeparator + responder
}

// RoomMetadata stores information about a room on the relay side.
type RoomMetadata struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Initiator string    `json:"initiator"`
	Responder string    `json:"responder"`
	CreatedAt time.Time `json:"createdAt"`
	Members   int       `json:"members"`
}
