// Package signaling routes opaque signaling messages between the
// participants of a room. Messages wait in per-recipient mailboxes until the
// recipient polls them or a push connection drains them.
package signaling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/mossy-p/webrtc-studio/internal/registry"
	"github.com/mossy-p/webrtc-studio/internal/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Options sets message lifetimes. Candidates are short lived; everything
// else must survive a slow answerer.
type Options struct {
	MessageTTL   time.Duration
	CandidateTTL time.Duration
}

// Notifier is told that a participant has pending messages.
type Notifier interface {
	Notify(ctx context.Context, roomID, participantID string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string) {}

// JoinResult is the joined participant and everyone already in the room.
type JoinResult struct {
	Participant models.Participant
	Others      []models.Participant
}

// Transport implements join, send, poll and leave on top of the registry
// and a mailbox store.
type Transport struct {
	registry *registry.Registry
	mailbox  store.Mailbox
	opts     Options
	notifier Notifier
	now      func() time.Time
}

// New builds a transport and registers it as the registry's departure
// listener so LEAVE and HOST_LEFT reach the remaining participants.
func New(reg *registry.Registry, mailbox store.Mailbox, opts Options) *Transport {
	t := &Transport{
		registry: reg,
		mailbox:  mailbox,
		opts:     opts,
		notifier: nopNotifier{},
		now:      time.Now,
	}
	reg.SetListener(t)
	return t
}

// SetNotifier installs the push notifier. Not safe for concurrent use.
func (t *Transport) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	t.notifier = n
}

// Registry exposes the underlying room registry.
func (t *Transport) Registry() *registry.Registry {
	return t.registry
}

// Join registers the participant and broadcasts a JOIN carrying its display
// name and role to everyone else in the room.
func (t *Transport) Join(ctx context.Context, roomID, accountID, displayName string, role models.Role) (*JoinResult, error) {
	p, others, err := t.registry.AddParticipant(ctx, roomID, accountID, displayName, role)
	if err != nil {
		return nil, err
	}

	msg := t.newMessage(models.SignalTypeJoin, roomID, p.ID, nil, models.SignalData{
		DisplayName: p.DisplayName,
		Role:        p.Role,
	})
	if err := t.fanOut(ctx, msg, others); err != nil {
		return nil, err
	}
	return &JoinResult{Participant: *p, Others: others}, nil
}

// Send enqueues a message from an active participant. A nil toID broadcasts
// to every other active participant; each gets its own copy.
func (t *Transport) Send(ctx context.Context, roomID, fromID string, toID *string, typ models.SignalType, data models.SignalData) (*models.SignalMessage, error) {
	if !typ.Valid() || typ == models.SignalTypeJoin || typ == models.SignalTypeLeave {
		return nil, errors.Wrapf(models.ErrBadRequest, "cannot send %q", typ)
	}

	if _, err := t.registry.Touch(ctx, roomID, fromID); err != nil {
		return nil, err
	}

	msg := t.newMessage(typ, roomID, fromID, toID, data)
	if toID != nil {
		recipient, err := t.registry.Participant(ctx, roomID, *toID)
		if err != nil {
			return nil, err
		}
		return msg, t.fanOut(ctx, msg, []models.Participant{*recipient})
	}

	active, err := t.registry.ActiveParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	recipients := make([]models.Participant, 0, len(active))
	for _, p := range active {
		if p.ID != fromID {
			recipients = append(recipients, p)
		}
	}
	return msg, t.fanOut(ctx, msg, recipients)
}

// Poll returns the participant's pending messages in arrival order and
// marks them processed. A non-zero since also drops anything created at or
// before it.
func (t *Transport) Poll(ctx context.Context, roomID, participantID string, since time.Time) ([]models.SignalMessage, error) {
	if _, err := t.registry.Touch(ctx, roomID, participantID); err != nil {
		return nil, err
	}
	msgs, err := t.mailbox.Claim(ctx, roomID, participantID, since, t.now())
	if err != nil {
		return nil, errors.Wrap(err, "claim messages")
	}
	return msgs, nil
}

// Touch refreshes liveness without claiming messages.
func (t *Transport) Touch(ctx context.Context, roomID, participantID string) error {
	_, err := t.registry.Touch(ctx, roomID, participantID)
	return err
}

// Leave removes the participant. The LEAVE broadcast is sent from
// ParticipantLeft.
func (t *Transport) Leave(ctx context.Context, roomID, participantID string) error {
	return t.registry.RemoveParticipant(ctx, roomID, participantID)
}

// PurgeExpired drops unclaimed messages past their TTL.
func (t *Transport) PurgeExpired(ctx context.Context) {
	n, err := t.mailbox.PurgeExpired(ctx, t.now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to purge expired messages")
		return
	}
	if n > 0 {
		log.Debug().Int("purged", n).Msg("Purged expired messages")
	}
}

// ParticipantLeft broadcasts LEAVE, plus HOST_LEFT for a departing host, and
// discards whatever was still waiting for the participant.
func (t *Transport) ParticipantLeft(ctx context.Context, p models.Participant, remaining []models.Participant) {
	if err := t.mailbox.PurgeRecipient(ctx, p.RoomID, p.ID); err != nil {
		log.Warn().Err(err).Str("participant_id", p.ID).Msg("Failed to purge mailbox")
	}

	data := models.SignalData{DisplayName: p.DisplayName, Role: p.Role}
	leave := t.newMessage(models.SignalTypeLeave, p.RoomID, p.ID, nil, data)
	if err := t.fanOut(ctx, leave, remaining); err != nil {
		log.Error().Err(err).Str("room_id", p.RoomID).Msg("Failed to broadcast leave")
	}
	if p.Role != models.RoleHost {
		return
	}
	hostLeft := t.newMessage(models.SignalTypeHostLeft, p.RoomID, p.ID, nil, data)
	if err := t.fanOut(ctx, hostLeft, remaining); err != nil {
		log.Error().Err(err).Str("room_id", p.RoomID).Msg("Failed to broadcast host-left")
	}
}

// RoomClosed drops every mailbox of the room.
func (t *Transport) RoomClosed(ctx context.Context, roomID string) {
	if err := t.mailbox.PurgeRoom(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("Failed to purge room mailboxes")
	}
}

func (t *Transport) newMessage(typ models.SignalType, roomID, fromID string, toID *string, data models.SignalData) *models.SignalMessage {
	now := t.now()
	ttl := t.opts.MessageTTL
	if typ == models.SignalTypeCandidate {
		ttl = t.opts.CandidateTTL
	}
	msg := &models.SignalMessage{
		ID:        uuid.New().String(),
		Type:      typ,
		RoomID:    roomID,
		FromID:    fromID,
		ToID:      toID,
		Data:      data,
		CreatedAt: now,
	}
	if ttl > 0 {
		msg.ExpiresAt = now.Add(ttl)
	}
	return msg
}

func (t *Transport) fanOut(ctx context.Context, msg *models.SignalMessage, recipients []models.Participant) error {
	for _, p := range recipients {
		if err := t.mailbox.Enqueue(ctx, p.ID, msg); err != nil {
			return errors.Wrapf(err, "enqueue for %s", p.ID)
		}
	}
	for _, p := range recipients {
		t.notifier.Notify(ctx, msg.RoomID, p.ID)
	}

	log.Debug().
		Str("room_id", msg.RoomID).
		Str("type", string(msg.Type)).
		Str("from", msg.FromID).
		Int("recipients", len(recipients)).
		Msg("Signal queued")
	return nil
}
