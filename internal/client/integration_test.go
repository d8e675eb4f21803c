package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/webrtc-roulette/internal/handlers"
	"github.com/mossy-p/webrtc-roulette/internal/logging"
	"github.com/mossy-p/webrtc-roulette/internal/models"
	"github.com/mossy-p/webrtc-roulette/internal/store"
)

// scriptedPeers negotiate by exchanging the bare words offer and answer.
type scriptedPeers struct{}

type scriptedPeer struct {
	events PeerEvents
}

func (scriptedPeers) NewPeer(role models.Role, local Stream, events PeerEvents) (Peer, error) {
	p := &scriptedPeer{events: events}
	if role == models.RoleInitiator {
		go events.OnSignal(json.RawMessage(`"offer"`))
	}
	return p, nil
}

func (p *scriptedPeer) Signal(payload json.RawMessage) error {
	var word string
	if err := json.Unmarshal(payload, &word); err != nil {
		return err
	}
	go func() {
		switch word {
		case "offer":
			p.events.OnSignal(json.RawMessage(`"answer"`))
			p.events.OnStream(&fakeStream{id: "remote-initiator"})
			p.events.OnConnect()
		case "answer":
			p.events.OnStream(&fakeStream{id: "remote-responder"})
			p.events.OnConnect()
		}
	}()
	return nil
}

func (p *scriptedPeer) Destroy() error { return nil }

type endpoint struct {
	o     *Orchestrator
	media *fakeMedia
	rec   *stateRecorder
}

func (e *endpoint) status() Status { return e.o.State().Status }

func startEndpoint(t *testing.T, matchingURL, signalingURL string) *endpoint {
	t.Helper()
	log := logging.Discard()
	e := &endpoint{media: newFakeMedia(), rec: &stateRecorder{}}
	dialer := WebsocketDialer{}
	e.o = New(Config{RedialEnabled: true, RedialDelay: 10 * time.Millisecond}, Deps{
		Media: e.media,
		Peers: scriptedPeers{},
		Match: func(h MatchEventHandler) MatchService {
			return NewMatchChannel(dialer, matchingURL, h, log)
		},
		Signal: func(h SignalEventHandler) SignalService {
			return NewSignalChannel(dialer, signalingURL, h, log)
		},
	}, log)

	updates, unsubscribe := e.o.Subscribe()
	go func() {
		for {
			select {
			case s := <-updates:
				e.rec.mu.Lock()
				e.rec.states = append(e.rec.states, s)
				e.rec.mu.Unlock()
			case <-e.o.Done():
				unsubscribe()
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go e.o.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.o.Done()
	})
	return e
}

func startServers(t *testing.T) (matching, signaling *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logging.Discard()
	st := store.NewMemoryStore()
	cfg := handlers.RouterConfig{JWTSecret: "test", Logger: log}

	relay := handlers.NewRelay(st, log)
	matching = httptest.NewServer(handlers.NewMatchingRouter(handlers.NewMatcher(st, log), cfg))
	signaling = httptest.NewServer(handlers.NewSignalingRouter(relay, handlers.NewRooms(st, relay, log), cfg))
	t.Cleanup(matching.Close)
	t.Cleanup(signaling.Close)
	return matching, signaling
}

func TestTwoClientsMeetThroughReferenceServers(t *testing.T) {
	if testing.Short() {
		t.Skip("starts local servers")
	}
	matching, signaling := startServers(t)
	alice := startEndpoint(t, matching.URL, signaling.URL)
	bob := startEndpoint(t, matching.URL, signaling.URL)

	require.NoError(t, alice.o.Register("alice"))
	require.Eventually(t, func() bool { return alice.status() == StatusQueued }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, bob.o.Register("bob"))

	connected := func() bool { return alice.status() == StatusConnected && bob.status() == StatusConnected }
	require.Eventually(t, connected, 5*time.Second, 10*time.Millisecond)

	as, bs := alice.o.State(), bob.o.State()
	assert.Equal(t, "alice_bob", as.RoomCode)
	assert.Equal(t, models.RoleInitiator, as.Role)
	assert.Equal(t, "bob", as.PeerName)
	assert.Equal(t, models.RoleResponder, bs.Role)
	assert.Equal(t, "alice", bs.PeerName)
	assert.True(t, as.Verified)
	assert.True(t, alice.rec.seenInOrder(StatusQueued, StatusMatched, StatusVerified, StatusConnected))

	firstEpoch := as.Epoch
	require.True(t, alice.o.Skip())
	require.Eventually(t, func() bool {
		return bob.rec.seenInOrder(StatusConnected, StatusPeerDisconnected)
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return connected() && alice.o.State().Epoch > firstEpoch
	}, 5*time.Second, 10*time.Millisecond)

	for _, e := range []*endpoint{alice, bob} {
		_, live, maxLive := e.media.stats()
		assert.Equal(t, 1, live)
		assert.Equal(t, 1, maxLive)
	}
}
