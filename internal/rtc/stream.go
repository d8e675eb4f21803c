package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// LocalStream is a set of local tracks lent to a peer connection.
type LocalStream struct {
	id     string
	tracks []webrtc.TrackLocal

	closeOnce sync.Once
	closeFn   func()
}

// NewLocalStream wraps tracks. closeFn stops them and runs once.
func NewLocalStream(id string, closeFn func(), tracks ...webrtc.TrackLocal) *LocalStream {
	return &LocalStream{id: id, tracks: tracks, closeFn: closeFn}
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []webrtc.TrackLocal { return s.tracks }

// Close stops every track.
func (s *LocalStream) Close() {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}

// RemoteStream collects the tracks a peer sends.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), s.tracks...)
}

func (s *RemoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}
