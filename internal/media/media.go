package media

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// ErrMediaAcquisitionDenied is returned by a Source that cannot provide the
// requested kinds. It never fails a join.
var ErrMediaAcquisitionDenied = errors.New("media acquisition denied")

// Kind of a local track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Constraints describe what to capture.
type Constraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate int
}

// DefaultConstraints asks for 720p30 video plus audio.
func DefaultConstraints() Constraints {
	return Constraints{Audio: true, Video: true, Width: 1280, Height: 720, FrameRate: 30}
}

// Empty reports whether nothing is requested.
func (c Constraints) Empty() bool {
	return !c.Audio && !c.Video
}

// Track is one local media track.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
	Stopped() bool
	// Local is what gets added to peer connections.
	Local() webrtc.TrackLocal
}

// Source captures local media.
type Source interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}

// Stream groups the local tracks of one capture.
type Stream struct {
	ID string

	mu     sync.Mutex
	tracks []Track
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{ID: uuid.NewString(), tracks: tracks}
}

// Tracks returns a snapshot of all tracks.
func (s *Stream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.tracks...)
}

func (s *Stream) byKind(k Kind) []Track {
	var out []Track
	for _, t := range s.Tracks() {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream) AudioTracks() []Track { return s.byKind(KindAudio) }
func (s *Stream) VideoTracks() []Track { return s.byKind(KindVideo) }

// SetEnabled toggles every track of kind k.
func (s *Stream) SetEnabled(k Kind, enabled bool) {
	for _, t := range s.byKind(k) {
		t.SetEnabled(enabled)
	}
}

// Live counts tracks that have not been stopped.
func (s *Stream) Live() int {
	n := 0
	for _, t := range s.Tracks() {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

// Stop stops every track. Safe to call more than once.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
