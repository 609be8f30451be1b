package media

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Acquire asks src for media, falling back from audio+video to audio only,
// then video only, then an empty stream. The returned stream is never nil;
// the error is non-nil only when ctx is done.
func Acquire(ctx context.Context, src Source, c Constraints) (*Stream, error) {
	var ladder []Constraints
	if c.Audio && c.Video {
		ladder = append(ladder, c)
	}
	if c.Audio {
		audio := c
		audio.Video = false
		ladder = append(ladder, audio)
	}
	if c.Video {
		video := c
		video.Audio = false
		ladder = append(ladder, video)
	}

	for _, attempt := range ladder {
		if err := ctx.Err(); err != nil {
			return NewStream(), err
		}
		stream, err := src.GetUserMedia(ctx, attempt)
		if err == nil {
			log.Debug().
				Bool("audio", attempt.Audio).
				Bool("video", attempt.Video).
				Int("tracks", len(stream.Tracks())).
				Msg("Local media acquired")
			return stream, nil
		}
		log.Warn().Err(err).
			Bool("audio", attempt.Audio).
			Bool("video", attempt.Video).
			Msg("Media acquisition failed, falling back")
	}

	log.Warn().Msg("Joining without local media")
	return NewStream(), ctx.Err()
}
