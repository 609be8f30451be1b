// Package registry is the authoritative bookkeeping of rooms and their
// participants: role assignment, liveness and cleanup.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/mossy-p/webrtc-studio/internal/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxParticipants = 8
	touchInterval          = 5 * time.Second
	codeAttempts           = 5
)

// Options controls room creation and cleanup.
type Options struct {
	// AutoCreate creates unknown rooms on join, making the joiner HOST.
	// When false, joining an unknown room returns models.ErrRoomNotFound.
	AutoCreate         bool
	MaxParticipants    int
	RoomIdleTTL        time.Duration
	RoomMaxAge         time.Duration
	ParticipantTimeout time.Duration
}

// Listener is told about departures so they can be announced to the room.
// Calls happen after the room lock is released.
type Listener interface {
	ParticipantLeft(ctx context.Context, p models.Participant, remaining []models.Participant)
	RoomClosed(ctx context.Context, roomID string)
}

type nopListener struct{}

func (nopListener) ParticipantLeft(context.Context, models.Participant, []models.Participant) {}
func (nopListener) RoomClosed(context.Context, string)                                      {}

// Registry owns Room and Participant records. Every mutation of a room runs
// under that room's lock, so role assignment and the empty-room check cannot
// race with a concurrent join.
type Registry struct {
	rooms    store.RoomStore
	locker   store.Locker
	opts     Options
	listener Listener
	now      func() time.Time
	// touchEvery throttles liveness writes. It stays a fraction of the
	// participant timeout so throttled touches cannot let a live
	// participant expire.
	touchEvery time.Duration
}

func New(rooms store.RoomStore, locker store.Locker, opts Options) *Registry {
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = defaultMaxParticipants
	}
	touchEvery := touchInterval
	if t := opts.ParticipantTimeout / 4; t > 0 && t < touchEvery {
		touchEvery = t
	}
	return &Registry{
		rooms:      rooms,
		locker:     locker,
		opts:       opts,
		listener:   nopListener{},
		now:        time.Now,
		touchEvery: touchEvery,
	}
}

// SetListener registers the departure listener. Not safe to call
// concurrently with other methods.
func (r *Registry) SetListener(l Listener) {
	if l == nil {
		l = nopListener{}
	}
	r.listener = l
}

// AutoCreate reports whether unknown rooms are created on join.
func (r *Registry) AutoCreate() bool {
	return r.opts.AutoCreate
}

func (r *Registry) withRoom(ctx context.Context, roomID string, fn func() error) error {
	unlock, err := r.locker.Lock(ctx, roomID)
	if err != nil {
		return errors.Wrap(err, "lock room")
	}
	defer unlock()
	return fn()
}

// Create registers a new room owned by hostAccountID and returns it.
func (r *Registry) Create(ctx context.Context, hostAccountID, title string, maxParticipants int) (*models.Room, error) {
	if maxParticipants <= 0 {
		maxParticipants = r.opts.MaxParticipants
	}

	now := r.now()
	for i := 0; i < codeAttempts; i++ {
		room := &models.Room{
			ID:              uuid.New().String(),
			Code:            generateRoomCode(),
			Title:           title,
			HostID:          hostAccountID,
			Status:          models.RoomStatusActive,
			CreatedAt:       now,
			LastActivity:    now,
			MaxParticipants: maxParticipants,
		}
		if room.Title == "" {
			room.Title = "Room " + room.Code
		}

		err := r.rooms.CreateRoom(ctx, room)
		if errors.Is(err, store.ErrRoomExists) {
			continue
		}
		if err != nil {
			return nil, err
		}

		log.Info().Str("room_id", room.ID).Str("code", room.Code).Str("host", hostAccountID).Msg("Room created")
		return room, nil
	}
	return nil, errors.New("could not allocate a unique room code")
}

// GetOrCreate returns the room, creating it under roomID when missing. An
// ended room is reactivated. The first caller's account becomes the owner.
func (r *Registry) GetOrCreate(ctx context.Context, roomID, accountID string) (*models.Room, error) {
	var room *models.Room
	err := r.withRoom(ctx, roomID, func() error {
		var err error
		room, _, err = r.getOrCreateLocked(ctx, roomID, accountID)
		return err
	})
	return room, err
}

func (r *Registry) getOrCreateLocked(ctx context.Context, roomID, accountID string) (*models.Room, bool, error) {
	room, err := r.rooms.GetRoom(ctx, roomID)
	switch {
	case err == nil && room.Status == models.RoomStatusActive:
		return room, false, nil
	case err == nil:
		now := r.now()
		room.Status = models.RoomStatusActive
		room.HostID = accountID
		room.LastActivity = now
		if err := r.rooms.UpdateRoom(ctx, room); err != nil {
			return nil, false, err
		}
		log.Info().Str("room_id", roomID).Msg("Room reactivated")
		return room, true, nil
	case !errors.Is(err, models.ErrRoomNotFound):
		return nil, false, err
	}

	now := r.now()
	for i := 0; i < codeAttempts; i++ {
		room = &models.Room{
			ID:              roomID,
			Code:            generateRoomCode(),
			HostID:          accountID,
			Status:          models.RoomStatusActive,
			CreatedAt:       now,
			LastActivity:    now,
			MaxParticipants: r.opts.MaxParticipants,
		}
		room.Title = "Room " + room.Code

		err = r.rooms.CreateRoom(ctx, room)
		if errors.Is(err, store.ErrRoomExists) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		log.Info().Str("room_id", roomID).Str("code", room.Code).Msg("Created new room")
		return room, true, nil
	}
	return nil, false, errors.New("could not allocate a unique room code")
}

// Resolve finds an active room by id or by its shareable code.
func (r *Registry) Resolve(ctx context.Context, idOrCode string) (*models.Room, error) {
	if looksLikeCode(idOrCode) {
		room, err := r.rooms.GetRoomByCode(ctx, idOrCode)
		if err == nil {
			return activeRoom(room)
		}
		if !errors.Is(err, models.ErrRoomNotFound) {
			return nil, err
		}
	}

	room, err := r.rooms.GetRoom(ctx, idOrCode)
	if err != nil {
		return nil, err
	}
	return activeRoom(room)
}

func activeRoom(room *models.Room) (*models.Room, error) {
	if room.Status != models.RoomStatusActive {
		return nil, models.ErrRoomNotFound
	}
	return room, nil
}

// Info returns the room with all of its participant records.
func (r *Registry) Info(ctx context.Context, idOrCode string) (*models.RoomInfo, error) {
	room, err := r.rooms.GetRoom(ctx, idOrCode)
	if errors.Is(err, models.ErrRoomNotFound) && looksLikeCode(idOrCode) {
		room, err = r.rooms.GetRoomByCode(ctx, idOrCode)
	}
	if err != nil {
		return nil, err
	}

	participants, err := r.rooms.ListParticipants(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return &models.RoomInfo{
		Room:         *room,
		Participants: participants,
		ActiveCount:  len(activeOnly(participants)),
	}, nil
}

// ActiveParticipants lists the participants that have not left.
func (r *Registry) ActiveParticipants(ctx context.Context, roomID string) ([]models.Participant, error) {
	if _, err := r.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	all, err := r.rooms.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return activeOnly(all), nil
}

// Participant returns an active participant of an active room.
func (r *Registry) Participant(ctx context.Context, roomID, participantID string) (*models.Participant, error) {
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := activeRoom(room); err != nil {
		return nil, err
	}
	p, err := r.rooms.GetParticipant(ctx, roomID, participantID)
	if err != nil {
		return nil, err
	}
	if !p.Active() {
		return nil, models.ErrParticipantNotFound
	}
	return p, nil
}

// AddParticipant joins accountID to the room and assigns its role. The
// returned slice holds the other active participants.
func (r *Registry) AddParticipant(ctx context.Context, roomID, accountID, displayName string, requested models.Role) (*models.Participant, []models.Participant, error) {
	if accountID == "" {
		accountID = uuid.New().String()
	}

	var (
		joined *models.Participant
		others []models.Participant
	)
	err := r.withRoom(ctx, roomID, func() error {
		room, created, err := r.lookupForJoin(ctx, roomID, accountID)
		if err != nil {
			return err
		}

		all, err := r.rooms.ListParticipants(ctx, roomID)
		if err != nil {
			return err
		}
		active := activeOnly(all)
		now := r.now()

		existing, err := r.rooms.FindParticipant(ctx, roomID, accountID)
		if err != nil && !errors.Is(err, models.ErrParticipantNotFound) {
			return err
		}
		if existing != nil && existing.Active() {
			// Duplicate join of a live session: keep the record and its role.
			existing.LastSeen = now
			if displayName != "" {
				existing.DisplayName = displayName
			}
			if err := r.rooms.SaveParticipant(ctx, existing); err != nil {
				return err
			}
			joined, others = existing, without(active, existing.ID)
			return nil
		}

		if len(active) >= room.MaxParticipants {
			return models.ErrRoomFull
		}

		role := assignRole(room, active, accountID, requested)
		if created {
			role = models.RoleHost
		}

		p := existing
		if p == nil {
			p = &models.Participant{ID: uuid.New().String(), RoomID: roomID, AccountID: accountID}
		}
		p.DisplayName = displayName
		p.Role = role
		p.JoinedAt = now
		p.LastSeen = now
		p.LeftAt = nil

		if err := r.rooms.SaveParticipant(ctx, p); err != nil {
			return err
		}

		room.LastActivity = now
		if err := r.rooms.UpdateRoom(ctx, room); err != nil {
			return err
		}

		joined, others = p, active
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("room_id", roomID).
		Str("participant_id", joined.ID).
		Str("role", string(joined.Role)).
		Int("others", len(others)).
		Msg("Participant joined")
	return joined, others, nil
}

func (r *Registry) lookupForJoin(ctx context.Context, roomID, accountID string) (*models.Room, bool, error) {
	if r.opts.AutoCreate {
		return r.getOrCreateLocked(ctx, roomID, accountID)
	}
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	room, err = activeRoom(room)
	return room, false, err
}

// assignRole grants HOST only while no active HOST exists, to a joiner that
// asked for it or is the first into an empty room, and never to someone other
// than the owner of an owned room.
func assignRole(room *models.Room, active []models.Participant, accountID string, requested models.Role) models.Role {
	hasHost := false
	for _, p := range active {
		if p.Role == models.RoleHost {
			hasHost = true
			break
		}
	}

	wantsHost := requested == models.RoleHost || (requested == models.RoleGuest && len(active) == 0)
	mayHost := room.HostID == "" || room.HostID == accountID
	if !hasHost && wantsHost && mayHost {
		return models.RoleHost
	}
	if requested == models.RoleWatcher {
		return models.RoleWatcher
	}
	return models.RoleGuest
}

// RemoveParticipant marks the participant as left. Host departure promotes
// nobody. A room left without active participants is ended.
func (r *Registry) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	var (
		left      *models.Participant
		remaining []models.Participant
		closed    bool
	)
	err := r.withRoom(ctx, roomID, func() error {
		room, err := r.rooms.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		p, err := r.rooms.GetParticipant(ctx, roomID, participantID)
		if err != nil {
			return err
		}
		if !p.Active() {
			return nil
		}

		remaining, closed, err = r.leaveLocked(ctx, room, p)
		left = p
		return err
	})
	if err != nil || left == nil {
		return err
	}

	r.announce(ctx, *left, remaining, closed)
	return nil
}

func (r *Registry) leaveLocked(ctx context.Context, room *models.Room, p *models.Participant) ([]models.Participant, bool, error) {
	now := r.now()
	p.LeftAt = &now
	if err := r.rooms.SaveParticipant(ctx, p); err != nil {
		return nil, false, err
	}

	all, err := r.rooms.ListParticipants(ctx, room.ID)
	if err != nil {
		return nil, false, err
	}
	remaining := activeOnly(all)

	room.LastActivity = now
	if len(remaining) == 0 {
		room.Status = models.RoomStatusEnded
	}
	if err := r.rooms.UpdateRoom(ctx, room); err != nil {
		return nil, false, err
	}
	return remaining, len(remaining) == 0, nil
}

func (r *Registry) announce(ctx context.Context, left models.Participant, remaining []models.Participant, closed bool) {
	log.Info().
		Str("room_id", left.RoomID).
		Str("participant_id", left.ID).
		Str("role", string(left.Role)).
		Int("remaining", len(remaining)).
		Msg("Participant left")

	r.listener.ParticipantLeft(ctx, left, remaining)
	if closed {
		log.Info().Str("room_id", left.RoomID).Msg("Room ended, no active participants")
		r.listener.RoomClosed(ctx, left.RoomID)
	}
}

// Touch records liveness of an active participant. Writes are throttled.
func (r *Registry) Touch(ctx context.Context, roomID, participantID string) (*models.Participant, error) {
	p, err := r.Participant(ctx, roomID, participantID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	if now.Sub(p.LastSeen) < r.touchEvery {
		return p, nil
	}

	err = r.withRoom(ctx, roomID, func() error {
		current, err := r.rooms.GetParticipant(ctx, roomID, participantID)
		if err != nil {
			return err
		}
		if !current.Active() {
			return models.ErrParticipantNotFound
		}
		current.LastSeen = now
		p = current
		return r.rooms.SaveParticipant(ctx, current)
	})
	return p, err
}

// Delete removes a room on behalf of its owner.
func (r *Registry) Delete(ctx context.Context, roomID, accountID string) error {
	err := r.withRoom(ctx, roomID, func() error {
		room, err := r.rooms.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if room.HostID != accountID {
			return models.ErrForbidden
		}
		return r.rooms.DeleteRoom(ctx, roomID)
	})
	if err != nil {
		return err
	}

	log.Info().Str("room_id", roomID).Str("account_id", accountID).Msg("Room deleted")
	r.listener.RoomClosed(ctx, roomID)
	return nil
}

func activeOnly(all []models.Participant) []models.Participant {
	out := make([]models.Participant, 0, len(all))
	for _, p := range all {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out
}

func without(ps []models.Participant, id string) []models.Participant {
	out := make([]models.Participant, 0, len(ps))
	for _, p := range ps {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
