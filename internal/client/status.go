package client

import "github.com/mossy-p/webrtc-roulette/internal/models"

// Status is the externally visible orchestrator state. The string values
// are what the presentation layer switches on.
type Status string

const (
	StatusIdle                        Status = "idle"
	StatusSearching                   Status = "searching"
	StatusQueued                      Status = "queued"
	StatusMatched                     Status = "matched"
	StatusMediaError                  Status = "media-error"
	StatusVerified                    Status = "verified"
	StatusConnected                   Status = "connected"
	StatusPeerDisconnected            Status = "peer-disconnected"
	StatusPeerError                   Status = "peer-error"
	StatusRegisterFailed              Status = "register-failed"
	StatusMatchingServiceDisconnected Status = "matching-service-disconnected"
	StatusSignalingError              Status = "signaling-error"
)

// State is a snapshot of the orchestrator for presentation.
type State struct {
	Status   Status
	Reason   string
	Identity string
	PeerName string
	RoomCode string
	Role     models.Role
	Verified bool
	Epoch    uint64
}

// Label renders the status the way a status badge shows it, with the
// reason appended for error states.
func (s State) Label() string {
	if s.Reason == "" {
		return string(s.Status)
	}
	switch s.Status {
	case StatusPeerError, StatusSignalingError, StatusMediaError, StatusRegisterFailed, StatusMatchingServiceDisconnected:
		return string(s.Status) + ": " + s.Reason
	}
	return string(s.Status)
}
