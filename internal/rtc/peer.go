package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-roulette/internal/client"
	"github.com/mossy-p/webrtc-roulette/internal/models"
)

var ErrConnectionFailed = errors.New("peer connection failed")

// Peer is a client.Peer over a pion PeerConnection. Remote payloads are
// applied on one goroutine in the order Signal received them.
type Peer struct {
	pc     *webrtc.PeerConnection
	role   models.Role
	events client.PeerEvents
	logger *slog.Logger

	mu    sync.Mutex
	ops   []func()
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
	ended atomic.Bool

	// Owned by the run goroutine.
	candidates []webrtc.ICECandidateInit

	remoteOnce sync.Once
	remote     *RemoteStream
}

var _ client.Peer = (*Peer)(nil)

func newPeer(pc *webrtc.PeerConnection, role models.Role, events client.PeerEvents, logger *slog.Logger) *Peer {
	p := &Peer{
		pc:     pc,
		role:   role,
		events: events,
		logger: logger.With("role", role),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := encodeCandidate(c.ToJSON())
		if err != nil {
			p.logger.Warn("encode candidate", "error", err)
			return
		}
		p.emitSignal(payload)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("connection state", "state", state.String())
		if p.ended.Load() {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if p.events.OnConnect != nil {
				p.events.OnConnect()
			}
		case webrtc.PeerConnectionStateFailed:
			p.fail(ErrConnectionFailed)
		case webrtc.PeerConnectionStateClosed:
			if p.events.OnClose != nil {
				p.events.OnClose()
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		first := false
		p.remoteOnce.Do(func() {
			p.remote = &RemoteStream{id: track.StreamID()}
			first = true
		})
		p.remote.add(track)
		if first && !p.ended.Load() && p.events.OnStream != nil {
			p.events.OnStream(p.remote)
		}
		go drain(track)
	})

	go p.run()
	return p
}

// Signal queues a remote payload. Malformed payloads are rejected here.
func (p *Peer) Signal(raw json.RawMessage) error {
	payload, err := DecodePayload(raw)
	if err != nil {
		return err
	}
	if !p.enqueue(func() { p.apply(payload) }) {
		return client.ErrSessionClosed
	}
	return nil
}

// Destroy closes the connection. No events are reported afterwards.
func (p *Peer) Destroy() error {
	var err error
	p.once.Do(func() {
		p.ended.Store(true)
		close(p.done)
		err = p.pc.Close()
	})
	return err
}

func (p *Peer) enqueue(op func()) bool {
	p.mu.Lock()
	if p.ended.Load() {
		p.mu.Unlock()
		return false
	}
	p.ops = append(p.ops, op)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *Peer) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			if len(p.ops) == 0 {
				p.mu.Unlock()
				break
			}
			op := p.ops[0]
			p.ops = p.ops[1:]
			p.mu.Unlock()

			if p.ended.Load() {
				return
			}
			op()
		}
	}
}

func (p *Peer) offer() {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.fail(fmt.Errorf("set local offer: %w", err))
		return
	}
	p.sendDescription(offer)
}

func (p *Peer) apply(payload Payload) {
	switch payload.Type {
	case payloadCandidate:
		if p.pc.RemoteDescription() == nil {
			p.candidates = append(p.candidates, *payload.Candidate)
			return
		}
		if err := p.pc.AddICECandidate(*payload.Candidate); err != nil {
			p.logger.Warn("add remote candidate", "error", err)
		}
	case payloadOffer:
		if p.role == models.RoleInitiator {
			p.logger.Warn("initiator ignoring remote offer")
			return
		}
		if err := p.setRemote(payload.description()); err != nil {
			p.fail(err)
			return
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			p.fail(fmt.Errorf("create answer: %w", err))
			return
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			p.fail(fmt.Errorf("set local answer: %w", err))
			return
		}
		p.sendDescription(answer)
	case payloadAnswer:
		if err := p.setRemote(payload.description()); err != nil {
			p.fail(err)
		}
	}
}

func (p *Peer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	pending := p.candidates
	p.candidates = nil
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.logger.Warn("add buffered candidate", "error", err)
		}
	}
	return nil
}

func (p *Peer) sendDescription(desc webrtc.SessionDescription) {
	payload, err := encodeDescription(desc)
	if err != nil {
		p.fail(fmt.Errorf("encode %s: %w", desc.Type, err))
		return
	}
	p.emitSignal(payload)
}

func (p *Peer) emitSignal(payload json.RawMessage) {
	if p.ended.Load() || p.events.OnSignal == nil {
		return
	}
	p.events.OnSignal(payload)
}

func (p *Peer) fail(err error) {
	if p.ended.Load() {
		return
	}
	p.logger.Error("peer failed", "error", err)
	if p.events.OnError != nil {
		p.events.OnError(err)
	}
}

// drain keeps the receive buffers moving for tracks nothing renders.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
