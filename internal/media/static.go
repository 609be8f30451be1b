package media

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"
)

// StaticSource hands out sample-fed pion tracks for the kinds it has. A
// request for a kind it lacks is denied, like a browser without that device.
type StaticSource struct {
	HasAudio bool
	HasVideo bool
}

func (s StaticSource) GetUserMedia(_ context.Context, c Constraints) (*Stream, error) {
	if c.Empty() {
		return nil, errors.Wrap(ErrMediaAcquisitionDenied, "no kinds requested")
	}
	if (c.Audio && !s.HasAudio) || (c.Video && !s.HasVideo) {
		return nil, ErrMediaAcquisitionDenied
	}

	streamID := "studio-" + shortID()
	var tracks []Track
	if c.Audio {
		t, err := NewSampleTrack(KindAudio, streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := NewSampleTrack(KindVideo, streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	stream := NewStream(tracks...)
	stream.ID = streamID
	return stream, nil
}

// SampleTrack wraps a TrackLocalStaticSample. While disabled, written samples
// are dropped; once stopped, writes fail with io.ErrClosedPipe.
type SampleTrack struct {
	kind  Kind
	local *webrtc.TrackLocalStaticSample

	mu      sync.RWMutex
	enabled bool
	stopped bool
}

func NewSampleTrack(kind Kind, streamID string) (*SampleTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == KindVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	local, err := webrtc.NewTrackLocalStaticSample(codec, string(kind)+"-"+shortID(), streamID)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s track", kind)
	}
	return &SampleTrack{kind: kind, local: local, enabled: true}, nil
}

func (t *SampleTrack) ID() string               { return t.local.ID() }
func (t *SampleTrack) Kind() Kind               { return t.kind }
func (t *SampleTrack) Local() webrtc.TrackLocal { return t.local }

func (t *SampleTrack) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *SampleTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *SampleTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.enabled = false
	t.mu.Unlock()
}

func (t *SampleTrack) Stopped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopped
}

// WriteSample forwards s to every bound peer connection.
func (t *SampleTrack) WriteSample(s pionmedia.Sample) error {
	t.mu.RLock()
	enabled, stopped := t.enabled, t.stopped
	t.mu.RUnlock()

	if stopped {
		return io.ErrClosedPipe
	}
	if !enabled {
		return nil
	}
	return t.local.WriteSample(s)
}

func shortID() string {
	return uuid.NewString()[:8]
}
