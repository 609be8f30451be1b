package media

import (
	"context"
	"io"
	"testing"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSource struct {
	StaticSource
	asked []Constraints
}

func (s *recordingSource) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	s.asked = append(s.asked, c)
	return s.StaticSource.GetUserMedia(ctx, c)
}

func kinds(s *Stream) []Kind {
	var out []Kind
	for _, t := range s.Tracks() {
		out = append(out, t.Kind())
	}
	return out
}

func TestAcquireFallbackLadder(t *testing.T) {
	tests := []struct {
		name   string
		source StaticSource
		want   []Kind
		asked  int
	}{
		{"both devices", StaticSource{HasAudio: true, HasVideo: true}, []Kind{KindAudio, KindVideo}, 1},
		{"no camera", StaticSource{HasAudio: true}, []Kind{KindAudio}, 2},
		{"no microphone", StaticSource{HasVideo: true}, []Kind{KindVideo}, 3},
		{"nothing", StaticSource{}, nil, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &recordingSource{StaticSource: tt.source}
			stream, err := Acquire(context.Background(), src, DefaultConstraints())
			require.NoError(t, err)
			require.NotNil(t, stream)
			assert.Equal(t, tt.want, kinds(stream))
			assert.Len(t, src.asked, tt.asked)
		})
	}
}

func TestAcquireAudioOnlyRequest(t *testing.T) {
	src := &recordingSource{StaticSource: StaticSource{HasAudio: true, HasVideo: true}}
	stream, err := Acquire(context.Background(), src, Constraints{Audio: true})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindAudio}, kinds(stream))
	assert.Len(t, src.asked, 1)
}

func TestAcquireCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream, err := Acquire(ctx, StaticSource{HasAudio: true}, DefaultConstraints())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, stream)
	assert.Empty(t, stream.Tracks())
}

func TestStaticSourceDenies(t *testing.T) {
	_, err := StaticSource{HasAudio: true}.GetUserMedia(context.Background(), DefaultConstraints())
	assert.ErrorIs(t, err, ErrMediaAcquisitionDenied)

	_, err = StaticSource{HasAudio: true}.GetUserMedia(context.Background(), Constraints{})
	assert.ErrorIs(t, err, ErrMediaAcquisitionDenied)
}

func TestStreamToggleAndStop(t *testing.T) {
	stream, err := StaticSource{HasAudio: true, HasVideo: true}.GetUserMedia(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	require.Len(t, stream.AudioTracks(), 1)
	require.Len(t, stream.VideoTracks(), 1)

	stream.SetEnabled(KindAudio, false)
	assert.False(t, stream.AudioTracks()[0].Enabled())
	assert.True(t, stream.VideoTracks()[0].Enabled())

	assert.Equal(t, 2, stream.Live())
	stream.Stop()
	stream.Stop()
	assert.Equal(t, 0, stream.Live())
}

func TestSampleTrackWrites(t *testing.T) {
	track, err := NewSampleTrack(KindAudio, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", track.Local().StreamID())

	sample := pionmedia.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond}

	track.SetEnabled(false)
	assert.NoError(t, track.WriteSample(sample))

	track.Stop()
	assert.ErrorIs(t, track.WriteSample(sample), io.ErrClosedPipe)
}
