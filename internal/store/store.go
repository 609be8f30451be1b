// Package store holds the persistence contracts for rooms, participants and
// signaling mailboxes, together with the memory, redis and postgres backends.
package store

import (
	"context"
	"time"

	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pkg/errors"
)

var (
	// ErrRoomExists is returned by CreateRoom when the id or code is taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrDuplicateParticipant is returned when a second record would be
	// saved for the same (roomId, accountId) pair.
	ErrDuplicateParticipant = errors.New("participant already exists for account")
)

// RoomStore persists rooms and their participants. Getters return
// models.ErrRoomNotFound / models.ErrParticipantNotFound for missing records.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	UpdateRoom(ctx context.Context, room *models.Room) error
	// DeleteRoom hard-deletes the room and all of its participants.
	DeleteRoom(ctx context.Context, roomID string) error
	ListRooms(ctx context.Context) ([]models.Room, error)

	// SaveParticipant inserts or replaces a participant by id. The
	// (roomId, accountId) pair must stay unique.
	SaveParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, roomID, participantID string) (*models.Participant, error)
	FindParticipant(ctx context.Context, roomID, accountID string) (*models.Participant, error)
	// ListParticipants returns every record of the room, active or not,
	// ordered by join time.
	ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error)
}

// Mailbox holds undelivered signaling messages per recipient.
type Mailbox interface {
	Enqueue(ctx context.Context, recipientID string, msg *models.SignalMessage) error
	// Claim returns the recipient's pending messages in creation order and
	// marks them processed. Messages expired at now, or created at or before
	// a non-zero since, are discarded instead of returned.
	Claim(ctx context.Context, roomID, recipientID string, since, now time.Time) ([]models.SignalMessage, error)
	PurgeRecipient(ctx context.Context, roomID, recipientID string) error
	PurgeRoom(ctx context.Context, roomID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Locker serializes work on a key (a room id) across goroutines, and across
// instances for distributed implementations.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Backend bundles the three contracts the registry and transport need.
type Backend struct {
	Rooms   RoomStore
	Mailbox Mailbox
	Locker  Locker
	Close   func() error
}

// deliverable filters claimed messages, keeping creation order.
func deliverable(msgs []models.SignalMessage, since, now time.Time) []models.SignalMessage {
	out := make([]models.SignalMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Expired(now) {
			continue
		}
		if !since.IsZero() && !m.CreatedAt.After(since) {
			continue
		}
		m.Processed = true
		out = append(out, m)
	}
	return out
}
