package registry

import (
	"context"
	"time"

	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/rs/zerolog/log"
)

// SweepResult summarizes one cleanup pass.
type SweepResult struct {
	ParticipantsExpired int
	RoomsPurged         int
}

type departure struct {
	left      models.Participant
	remaining []models.Participant
	closed    bool
}

// Sweep expires participants that stopped polling without sending LEAVE and
// purges rooms that are ended, idle past RoomIdleTTL or older than RoomMaxAge.
func (r *Registry) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	rooms, err := r.rooms.ListRooms(ctx)
	if err != nil {
		return res, err
	}

	for _, room := range rooms {
		var (
			departures []departure
			purged     bool
		)
		err := r.withRoom(ctx, room.ID, func() error {
			var err error
			departures, purged, err = r.sweepRoomLocked(ctx, room.ID)
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("room_id", room.ID).Msg("Room sweep failed")
			continue
		}

		announcedClose := false
		for _, d := range departures {
			r.announce(ctx, d.left, d.remaining, d.closed)
			announcedClose = announcedClose || d.closed
		}
		res.ParticipantsExpired += len(departures)
		if purged {
			res.RoomsPurged++
			log.Info().Str("room_id", room.ID).Msg("Room purged")
			if !announcedClose {
				r.listener.RoomClosed(ctx, room.ID)
			}
		}
	}
	return res, nil
}

func (r *Registry) sweepRoomLocked(ctx context.Context, roomID string) ([]departure, bool, error) {
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		// Deleted since ListRooms.
		return nil, false, nil
	}
	now := r.now()

	all, err := r.rooms.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, false, err
	}

	var departures []departure
	if r.opts.ParticipantTimeout > 0 && room.Status == models.RoomStatusActive {
		for i := range all {
			p := all[i]
			if !p.Active() || now.Sub(p.LastSeen) <= r.opts.ParticipantTimeout {
				continue
			}
			remaining, closed, err := r.leaveLocked(ctx, room, &p)
			if err != nil {
				return departures, false, err
			}
			departures = append(departures, departure{left: p, remaining: remaining, closed: closed})
		}
		if len(departures) > 0 {
			if room, err = r.rooms.GetRoom(ctx, roomID); err != nil {
				return departures, false, err
			}
			if all, err = r.rooms.ListParticipants(ctx, roomID); err != nil {
				return departures, false, err
			}
		}
	}

	if !r.expired(room, len(activeOnly(all)), now) {
		return departures, false, nil
	}
	if err := r.rooms.DeleteRoom(ctx, roomID); err != nil {
		return departures, false, err
	}
	return departures, true, nil
}

func (r *Registry) expired(room *models.Room, active int, now time.Time) bool {
	if r.opts.RoomMaxAge > 0 && now.Sub(room.CreatedAt) > r.opts.RoomMaxAge {
		return true
	}
	if active > 0 {
		return false
	}
	if room.Status == models.RoomStatusEnded {
		return true
	}
	return r.opts.RoomIdleTTL > 0 && now.Sub(room.LastActivity) > r.opts.RoomIdleTTL
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration, extra func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := r.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Sweep failed")
			} else if res.ParticipantsExpired > 0 || res.RoomsPurged > 0 {
				log.Info().
					Int("participants_expired", res.ParticipantsExpired).
					Int("rooms_purged", res.RoomsPurged).
					Msg("Sweep finished")
			}
			if extra != nil {
				extra(ctx)
			}
		}
	}
}
