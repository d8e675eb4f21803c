// Package rtc implements the peer connection and local media on top of
// pion.
package rtc

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-roulette/internal/client"
	"github.com/mossy-p/webrtc-roulette/internal/logging"
	"github.com/mossy-p/webrtc-roulette/internal/models"
)

// Options configures an Engine.
type Options struct {
	STUNServers []string
	// IncludeLoopback gathers loopback candidates, for same-host peers.
	IncludeLoopback bool
}

// Engine builds peers and captures media against one pion API.
type Engine struct {
	api     *webrtc.API
	config  webrtc.Configuration
	capture *capturer
	logger  *slog.Logger
}

var _ client.PeerFactory = (*Engine)(nil)

// NewEngine registers codecs and the default interceptors and prepares the
// platform capturer.
func NewEngine(opts Options, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "rtc")

	capture, err := newCapturer(logger)
	if err != nil {
		return nil, fmt.Errorf("media capture: %w", err)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := capture.populate(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: logging.PionFactory{Logger: logger}}
	se.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	config := webrtc.Configuration{}
	if len(opts.STUNServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: opts.STUNServers}}
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		config:  config,
		capture: capture,
		logger:  logger,
	}, nil
}

// NewPeer creates a trickle ICE peer. The initiator starts negotiating
// immediately; the responder waits for an offer.
func (e *Engine) NewPeer(role models.Role, local client.Stream, events client.PeerEvents) (client.Peer, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	var tracks []webrtc.TrackLocal
	if ls, ok := local.(*LocalStream); ok {
		tracks = ls.Tracks()
	}
	if err := attachTracks(pc, tracks); err != nil {
		_ = pc.Close()
		return nil, err
	}

	p := newPeer(pc, role, events, e.logger)
	if role == models.RoleInitiator {
		p.enqueue(p.offer)
	}
	return p, nil
}

// Media returns the MediaSource for this engine.
func (e *Engine) Media() *Media {
	return &Media{capture: e.capture, logger: e.logger}
}

func attachTracks(pc *webrtc.PeerConnection, tracks []webrtc.TrackLocal) error {
	if len(tracks) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
		return nil
	}
	for _, t := range tracks {
		if _, err := pc.AddTrack(t); err != nil {
			return fmt.Errorf("add track %s: %w", t.ID(), err)
		}
	}
	return nil
}
