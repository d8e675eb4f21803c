package rtc

import (
	"context"
	"log/slog"

	"github.com/mossy-p/webrtc-roulette/internal/client"
)

// Media is the client.MediaSource backed by the platform capturer.
type Media struct {
	capture *capturer
	logger  *slog.Logger
}

var _ client.MediaSource = (*Media)(nil)

func (m *Media) Acquire(ctx context.Context) (client.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := m.capture.open(ctx)
	if err != nil {
		return nil, err
	}
	m.logger.Info("local media captured", "stream", s.ID(), "tracks", len(s.Tracks()))
	return s, nil
}

// Release stops every track of a stream returned by Acquire.
func (m *Media) Release(s client.Stream) {
	ls, ok := s.(*LocalStream)
	if !ok {
		m.logger.Warn("release of foreign stream", "stream", s.ID())
		return
	}
	ls.Close()
	m.logger.Debug("local media released", "stream", ls.ID())
}
