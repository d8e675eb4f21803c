//go:build !linux || !cgo

package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-roulette/internal/client"
)

// capturer has no devices here; peers run receive-only.
type capturer struct {
	logger *slog.Logger
}

func newCapturer(logger *slog.Logger) (*capturer, error) {
	return &capturer{logger: logger}, nil
}

func (c *capturer) populate(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (c *capturer) open(context.Context) (*LocalStream, error) {
	return nil, fmt.Errorf("%w: no capture support on %s", client.ErrDeviceUnavailable, runtime.GOOS)
}
