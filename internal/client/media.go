package client

import (
	"context"
	"errors"
)

var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
)

// Stream is a local capture or a remote media stream.
type Stream interface {
	ID() string
}

// MediaSource owns the local camera and microphone. Release stops every
// track of a Stream returned by Acquire.
type MediaSource interface {
	Acquire(ctx context.Context) (Stream, error)
	Release(Stream)
}

// Sink is a render target for a Stream.
type Sink interface {
	Attach(Stream)
	Detach()
}

type nopSink struct{}

func (nopSink) Attach(Stream) {}
func (nopSink) Detach()       {}

// mediaLease is held from the start of an acquisition until the acquired
// stream is released, so two epochs never hold the camera at once.
type mediaLease chan struct{}

func newMediaLease() mediaLease {
	return make(mediaLease, 1)
}

func (l mediaLease) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l mediaLease) release() {
	select {
	case <-l:
	default:
	}
}
