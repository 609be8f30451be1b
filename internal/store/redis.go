package store

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	lockTTL       = 5 * time.Second
	lockRetryWait = 10 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Redis stores rooms, participants and mailboxes in Redis so several
// signaling instances can share them. Records are msgpack encoded.
//
// Keys:
//
//	rooms                       set of room ids
//	room:{id}                   room record
//	code:{code}                 room id
//	room:{id}:participants      hash participantId -> record
//	room:{id}:accounts          hash accountId -> participantId
//	room:{id}:mailbox:{pid}     list of pending messages
//	lock:room:{id}              lock token
type Redis struct {
	client     *redis.Client
	roomTTL    time.Duration
	messageTTL time.Duration
}

// NewRedis wraps client. roomTTL bounds how long room keys survive without
// the sweeper; messageTTL is refreshed on every enqueue.
func NewRedis(client *redis.Client, roomTTL, messageTTL time.Duration) *Redis {
	return &Redis{client: client, roomTTL: roomTTL, messageTTL: messageTTL}
}

// Backend exposes the redis store through the Backend bundle.
func (r *Redis) Backend() *Backend {
	return &Backend{Rooms: r, Mailbox: r, Locker: r, Close: r.client.Close}
}

func roomKey(id string) string             { return "room:" + id }
func codeKey(code string) string           { return "code:" + code }
func participantsKey(id string) string     { return "room:" + id + ":participants" }
func accountsKey(id string) string         { return "room:" + id + ":accounts" }
func mailboxKey(roomID, pid string) string { return "room:" + roomID + ":mailbox:" + pid }
func mailboxPattern(roomID string) string  { return "room:" + roomID + ":mailbox:*" }

const roomsKey = "rooms"

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (r *Redis) CreateRoom(ctx context.Context, room *models.Room) error {
	data, err := encode(room)
	if err != nil {
		return errors.Wrap(err, "encode room")
	}

	ok, err := r.client.SetNX(ctx, roomKey(room.ID), data, r.roomTTL).Result()
	if err != nil {
		return errors.Wrap(err, "store room")
	}
	if !ok {
		return ErrRoomExists
	}

	if room.Code != "" {
		ok, err = r.client.SetNX(ctx, codeKey(room.Code), room.ID, r.roomTTL).Result()
		if err != nil || !ok {
			r.client.Del(ctx, roomKey(room.ID))
			if err != nil {
				return errors.Wrap(err, "store room code")
			}
			return ErrRoomExists
		}
	}
	return errors.Wrap(r.client.SAdd(ctx, roomsKey, room.ID).Err(), "index room")
}

func (r *Redis) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	data, err := r.client.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrRoomNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load room")
	}

	var room models.Room
	if err := decode(data, &room); err != nil {
		return nil, errors.Wrap(err, "decode room")
	}
	return &room, nil
}

func (r *Redis) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	id, err := r.client.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrRoomNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load room code")
	}
	return r.GetRoom(ctx, id)
}

func (r *Redis) UpdateRoom(ctx context.Context, room *models.Room) error {
	data, err := encode(room)
	if err != nil {
		return errors.Wrap(err, "encode room")
	}
	ok, err := r.client.SetXX(ctx, roomKey(room.ID), data, redis.KeepTTL).Result()
	if err != nil {
		return errors.Wrap(err, "update room")
	}
	if !ok {
		return models.ErrRoomNotFound
	}
	return nil
}

func (r *Redis) DeleteRoom(ctx context.Context, roomID string) error {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(roomID), participantsKey(roomID), accountsKey(roomID))
		if room.Code != "" {
			pipe.Del(ctx, codeKey(room.Code))
		}
		pipe.SRem(ctx, roomsKey, roomID)
		return nil
	})
	return errors.Wrap(err, "delete room")
}

func (r *Redis) ListRooms(ctx context.Context) ([]models.Room, error) {
	ids, err := r.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list rooms")
	}

	out := make([]models.Room, 0, len(ids))
	for _, id := range ids {
		room, err := r.GetRoom(ctx, id)
		if errors.Is(err, models.ErrRoomNotFound) {
			// Expired by Redis TTL; drop the dangling index entry.
			r.client.SRem(ctx, roomsKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *room)
	}
	sortRooms(out)
	return out, nil
}

func (r *Redis) SaveParticipant(ctx context.Context, p *models.Participant) error {
	exists, err := r.client.Exists(ctx, roomKey(p.RoomID)).Result()
	if err != nil {
		return errors.Wrap(err, "check room")
	}
	if exists == 0 {
		return models.ErrRoomNotFound
	}

	owner, err := r.client.HGet(ctx, accountsKey(p.RoomID), p.AccountID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "check account")
	}
	if err == nil && owner != p.ID {
		return ErrDuplicateParticipant
	}

	data, err := encode(p)
	if err != nil {
		return errors.Wrap(err, "encode participant")
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, participantsKey(p.RoomID), p.ID, data)
		pipe.HSet(ctx, accountsKey(p.RoomID), p.AccountID, p.ID)
		pipe.Expire(ctx, participantsKey(p.RoomID), r.roomTTL)
		pipe.Expire(ctx, accountsKey(p.RoomID), r.roomTTL)
		return nil
	})
	return errors.Wrap(err, "store participant")
}

func (r *Redis) GetParticipant(ctx context.Context, roomID, participantID string) (*models.Participant, error) {
	data, err := r.client.HGet(ctx, participantsKey(roomID), participantID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrParticipantNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load participant")
	}

	var p models.Participant
	if err := decode(data, &p); err != nil {
		return nil, errors.Wrap(err, "decode participant")
	}
	return &p, nil
}

func (r *Redis) FindParticipant(ctx context.Context, roomID, accountID string) (*models.Participant, error) {
	id, err := r.client.HGet(ctx, accountsKey(roomID), accountID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrParticipantNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load account")
	}
	return r.GetParticipant(ctx, roomID, id)
}

func (r *Redis) ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error) {
	all, err := r.client.HGetAll(ctx, participantsKey(roomID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list participants")
	}

	out := make([]models.Participant, 0, len(all))
	for _, raw := range all {
		var p models.Participant
		if err := decode([]byte(raw), &p); err != nil {
			return nil, errors.Wrap(err, "decode participant")
		}
		out = append(out, p)
	}
	sortParticipants(out)
	return out, nil
}

func (r *Redis) Enqueue(ctx context.Context, recipientID string, msg *models.SignalMessage) error {
	data, err := encode(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}

	key := mailboxKey(msg.RoomID, recipientID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, r.messageTTL)
		return nil
	})
	return errors.Wrap(err, "enqueue message")
}

func (r *Redis) Claim(ctx context.Context, roomID, recipientID string, since, now time.Time) ([]models.SignalMessage, error) {
	key := mailboxKey(roomID, recipientID)

	var items *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "claim messages")
	}

	pending := make([]models.SignalMessage, 0, len(items.Val()))
	for _, raw := range items.Val() {
		var msg models.SignalMessage
		if err := decode([]byte(raw), &msg); err != nil {
			// A corrupt entry must not block the rest of the mailbox.
			continue
		}
		pending = append(pending, msg)
	}
	return deliverable(pending, since, now), nil
}

func (r *Redis) PurgeRecipient(ctx context.Context, roomID, recipientID string) error {
	return errors.Wrap(r.client.Del(ctx, mailboxKey(roomID, recipientID)).Err(), "purge mailbox")
}

func (r *Redis) PurgeRoom(ctx context.Context, roomID string) error {
	iter := r.client.Scan(ctx, 0, mailboxPattern(roomID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "scan mailboxes")
	}
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(r.client.Del(ctx, keys...).Err(), "purge mailboxes")
}

// PurgeExpired is a no-op for Redis: mailbox keys carry an EXPIRE refreshed
// on every enqueue, and expired entries are dropped on claim.
func (r *Redis) PurgeExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Lock takes a distributed per-room lock with SET NX PX, polling until it
// is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "lock:room:" + key
	token := uuid.New().String()

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			return nil, errors.Wrap(err, "acquire room lock")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryWait):
		}
	}

	return func() {
		releaseScript.Run(context.Background(), r.client, []string{lockKey}, token)
	}, nil
}
