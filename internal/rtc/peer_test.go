package rtc

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/webrtc-roulette/internal/client"
	"github.com/mossy-p/webrtc-roulette/internal/logging"
	"github.com/mossy-p/webrtc-roulette/internal/models"
)

// peerProbe records the events one side reports.
type peerProbe struct {
	connected chan struct{}
	streams   chan client.Stream
	signals   chan json.RawMessage

	mu     sync.Mutex
	errs   []error
	closes int
}

func newPeerProbe() *peerProbe {
	return &peerProbe{
		connected: make(chan struct{}, 1),
		streams:   make(chan client.Stream, 1),
		signals:   make(chan json.RawMessage, 64),
	}
}

func (p *peerProbe) events() client.PeerEvents {
	return client.PeerEvents{
		OnSignal: func(payload json.RawMessage) { p.signals <- payload },
		OnStream: func(s client.Stream) { p.streams <- s },
		OnConnect: func() {
			select {
			case p.connected <- struct{}{}:
			default:
			}
		},
		OnError: func(err error) {
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
		},
		OnClose: func() {
			p.mu.Lock()
			p.closes++
			p.mu.Unlock()
		},
	}
}

// forward applies every payload from src to dst in order.
func forward(t *testing.T, src *peerProbe, dst client.Peer, stop <-chan struct{}) {
	go func() {
		for {
			select {
			case payload := <-src.signals:
				if err := dst.Signal(payload); err != nil {
					t.Logf("forward: %v", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Options{IncludeLoopback: true}, logging.Discard())
	require.NoError(t, err)
	return e
}

func TestPeersConnectOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens UDP sockets")
	}
	engine := testEngine(t)

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "alice-cam")
	require.NoError(t, err)
	local := NewLocalStream("alice-cam", nil, track)

	initProbe, respProbe := newPeerProbe(), newPeerProbe()
	responder, err := engine.NewPeer(models.RoleResponder, nil, respProbe.events())
	require.NoError(t, err)
	initiator, err := engine.NewPeer(models.RoleInitiator, local, initProbe.events())
	require.NoError(t, err)

	stop := make(chan struct{})
	defer close(stop)
	forward(t, initProbe, responder, stop)
	forward(t, respProbe, initiator, stop)

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		frame := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = track.WriteSample(media.Sample{Data: frame, Duration: 20 * time.Millisecond})
			}
		}
	}()

	for name, probe := range map[string]*peerProbe{"initiator": initProbe, "responder": respProbe} {
		select {
		case <-probe.connected:
		case <-time.After(15 * time.Second):
			t.Fatalf("%s never connected", name)
		}
	}

	select {
	case s := <-respProbe.streams:
		assert.Equal(t, "alice-cam", s.ID())
	case <-time.After(10 * time.Second):
		t.Fatal("responder never saw the remote stream")
	}

	initiator.Destroy()
	responder.Destroy()
	initiator.Destroy()
	time.Sleep(100 * time.Millisecond)

	for _, probe := range []*peerProbe{initProbe, respProbe} {
		probe.mu.Lock()
		assert.Zero(t, probe.closes, "no close after a local destroy")
		assert.Empty(t, probe.errs)
		probe.mu.Unlock()
	}
}

func TestResponderWithoutTracksOffersNothing(t *testing.T) {
	engine := testEngine(t)
	probe := newPeerProbe()

	p, err := engine.NewPeer(models.RoleResponder, nil, probe.events())
	require.NoError(t, err)
	defer p.Destroy()

	select {
	case payload := <-probe.signals:
		t.Fatalf("responder produced %s before any offer", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInitiatorProducesOffer(t *testing.T) {
	engine := testEngine(t)
	probe := newPeerProbe()

	p, err := engine.NewPeer(models.RoleInitiator, nil, probe.events())
	require.NoError(t, err)
	defer p.Destroy()

	select {
	case raw := <-probe.signals:
		payload, err := DecodePayload(raw)
		require.NoError(t, err)
		assert.Equal(t, "offer", payload.Type)
		assert.Contains(t, payload.SDP, "m=video")
		assert.Contains(t, payload.SDP, "m=audio")
	case <-time.After(5 * time.Second):
		t.Fatal("no offer")
	}
}

func TestSignalAfterDestroy(t *testing.T) {
	engine := testEngine(t)
	p, err := engine.NewPeer(models.RoleResponder, nil, newPeerProbe().events())
	require.NoError(t, err)

	require.NoError(t, p.Destroy())
	err = p.Signal(json.RawMessage(`{"type":"offer","sdp":"v=0"}`))
	assert.ErrorIs(t, err, client.ErrSessionClosed)
	assert.Error(t, p.Signal(json.RawMessage(`{"type":"bogus"}`)))
}

func TestMediaReleaseClosesOnce(t *testing.T) {
	engine := testEngine(t)
	closed := 0
	s := NewLocalStream("cam", func() { closed++ })

	m := engine.Media()
	m.Release(s)
	m.Release(s)
	assert.Equal(t, 1, closed)
}
