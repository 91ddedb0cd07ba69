package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Cowatch/internal/media"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrPermission = errors.New("permission denied")

// CaptureDevice grants access to one kind of local device.
type CaptureDevice interface {
	Open(kind webrtc.RTPCodecType) error
}

// SimDevice grants everything except the kinds listed in Deny.
type SimDevice struct {
	Deny map[webrtc.RTPCodecType]bool
}

func (d SimDevice) Open(kind webrtc.RTPCodecType) error {
	if d.Deny[kind] {
		return &DeviceDeniedError{Kind: kind, Err: ErrPermission}
	}
	return nil
}

// Capture owns the single active camera/microphone track set.
type Capture struct {
	device CaptureDevice
	video  bool
	audio  bool
	stream *media.LocalStream
}

func NewCapture(device CaptureDevice) *Capture {
	return &Capture{device: device}
}

func (c *Capture) Video() bool { return c.video }

func (c *Capture) Audio() bool { return c.audio }

func (c *Capture) Stream() *media.LocalStream { return c.stream }

// Set replaces the active track set. The old set is released before any
// device is opened. A denied kind stays off and is reported in the error;
// the other kind still starts.
func (c *Capture) Set(ctx context.Context, video, audio bool) (*media.LocalStream, error) {
	c.Stop()

	var (
		kinds  []webrtc.RTPCodecType
		denied []error
	)
	for _, want := range []struct {
		on   bool
		kind webrtc.RTPCodecType
	}{{video, webrtc.RTPCodecTypeVideo}, {audio, webrtc.RTPCodecTypeAudio}} {
		if !want.on {
			continue
		}
		if err := c.device.Open(want.kind); err != nil {
			log.Warn().Err(err).Str("module", "capture").Str("kind", want.kind.String()).Msg("device unavailable")
			denied = append(denied, err)
			continue
		}
		kinds = append(kinds, want.kind)
	}
	if len(kinds) == 0 {
		return nil, errors.Join(denied...)
	}

	stream, err := media.NewLocalStream("call-"+uuid.NewString()[:8], kinds...)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	stream.Start(ctx)
	c.stream = stream
	for _, k := range kinds {
		switch k {
		case webrtc.RTPCodecTypeVideo:
			c.video = true
		case webrtc.RTPCodecTypeAudio:
			c.audio = true
		}
	}
	return stream, errors.Join(denied...)
}

// Stop releases the active track set.
func (c *Capture) Stop() {
	if c.stream != nil {
		c.stream.Release()
		c.stream = nil
	}
	c.video, c.audio = false, false
}
