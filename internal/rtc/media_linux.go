//go:build linux && cgo

package rtc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-roulette/internal/client"
)

// capturer opens the camera and microphone through V4L2 and malgo and
// encodes them as VP8 and Opus.
type capturer struct {
	selector *mediadevices.CodecSelector
	logger   *slog.Logger
}

func newCapturer(logger *slog.Logger) (*capturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &capturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		logger: logger,
	}, nil
}

func (c *capturer) populate(me *webrtc.MediaEngine) error {
	c.selector.Populate(me)
	return nil
}

type captureAttempt struct {
	video, audio bool
	label        string
}

var captureAttempts = []captureAttempt{
	{true, true, "video+audio"},
	{true, false, "video-only"},
	{false, true, "audio-only"},
}

func (c *capturer) open(ctx context.Context) (*LocalStream, error) {
	if len(mediadevices.EnumerateDevices()) == 0 {
		return nil, fmt.Errorf("%w: no capture devices", client.ErrDeviceUnavailable)
	}

	var lastErr error
	for _, a := range captureAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
		if a.video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				mc.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				mc.Width = prop.IntRanged{Max: 640}
				mc.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil, fmt.Errorf("%w: %v", client.ErrPermissionDenied, err)
			}
			c.logger.Warn("capture attempt failed", "attempt", a.label, "error", err)
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		locals := make([]webrtc.TrackLocal, 0, len(tracks))
		for _, t := range tracks {
			locals = append(locals, t)
		}
		closeFn := func() {
			for _, t := range tracks {
				if err := t.Close(); err != nil {
					c.logger.Debug("close track", "error", err)
				}
			}
		}
		return NewLocalStream(uuid.NewString(), closeFn, locals...), nil
	}
	return nil, fmt.Errorf("%w: %v", client.ErrDeviceUnavailable, lastErr)
}
