package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mossy-p/webrtc-roulette/internal/models"
)

// ErrSessionClosed is returned when applying a payload to a session that
// already closed or failed.
var ErrSessionClosed = errors.New("peer session closed")

// PeerState is the lifecycle of a PeerSession.
type PeerState int

const (
	PeerCreated PeerState = iota
	PeerAwaitingRemote
	PeerNegotiating
	PeerConnected
	PeerClosed
	PeerErrored
)

func (s PeerState) String() string {
	switch s {
	case PeerCreated:
		return "created"
	case PeerAwaitingRemote:
		return "awaiting-remote"
	case PeerNegotiating:
		return "negotiating"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	case PeerErrored:
		return "errored"
	}
	return fmt.Sprintf("PeerState(%d)", int(s))
}

func (s PeerState) terminal() bool {
	return s == PeerClosed || s == PeerErrored
}

// Peer is one peer connection. Signal applies a remote negotiation payload;
// payloads must be applied in the order they were produced.
type Peer interface {
	Signal(payload json.RawMessage) error
	Destroy() error
}

// PeerEvents are the callbacks a Peer reports through. They may be called
// from any goroutine.
type PeerEvents struct {
	OnSignal  func(payload json.RawMessage)
	OnStream  func(remote Stream)
	OnConnect func()
	OnError   func(err error)
	OnClose   func()
}

// PeerFactory constructs peers with trickle ICE enabled. local may carry
// no tracks only if the factory supports receive-only peers.
type PeerFactory interface {
	NewPeer(role models.Role, local Stream, events PeerEvents) (Peer, error)
}

// PeerSession tracks one Peer for one match. It is only touched from the
// orchestrator loop.
type PeerSession struct {
	epoch  uint64
	role   models.Role
	peer   Peer
	state  PeerState
	err    error
	remote Stream
}

func newPeerSession(epoch uint64, role models.Role, factory PeerFactory, local Stream, events PeerEvents) (*PeerSession, error) {
	peer, err := factory.NewPeer(role, local, events)
	if err != nil {
		return nil, fmt.Errorf("create %s peer: %w", role, err)
	}
	return &PeerSession{
		epoch: epoch,
		role:  role,
		peer:  peer,
		state: PeerCreated,
	}, nil
}

func (s *PeerSession) Role() models.Role { return s.role }
func (s *PeerSession) State() PeerState  { return s.state }
func (s *PeerSession) Err() error        { return s.err }
func (s *PeerSession) Remote() Stream    { return s.remote }

// apply feeds a remote payload to the peer.
func (s *PeerSession) apply(payload json.RawMessage) error {
	if s.state.terminal() {
		return ErrSessionClosed
	}
	if err := s.peer.Signal(payload); err != nil {
		return fmt.Errorf("apply remote signal: %w", err)
	}
	if s.state == PeerCreated || s.state == PeerAwaitingRemote {
		s.state = PeerNegotiating
	}
	return nil
}

// localSignal records that the peer produced a payload.
func (s *PeerSession) localSignal() {
	if s.state == PeerCreated {
		s.state = PeerAwaitingRemote
	}
}

// setRemote keeps the first remote stream only.
func (s *PeerSession) setRemote(remote Stream) bool {
	if s.remote != nil || s.state.terminal() {
		return false
	}
	s.remote = remote
	return true
}

func (s *PeerSession) connected() bool {
	if s.state.terminal() || s.state == PeerConnected {
		return false
	}
	s.state = PeerConnected
	return true
}

func (s *PeerSession) closed() bool {
	if s.state.terminal() {
		return false
	}
	s.state = PeerClosed
	return true
}

func (s *PeerSession) errored(err error) bool {
	if s.state.terminal() {
		return false
	}
	s.state = PeerErrored
	s.err = err
	return true
}

// destroy tears the peer down; later calls do nothing.
func (s *PeerSession) destroy() error {
	if s.peer == nil {
		return nil
	}
	peer := s.peer
	s.peer = nil
	if !s.state.terminal() {
		s.state = PeerClosed
	}
	return peer.Destroy()
}
