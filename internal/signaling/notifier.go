package signaling

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const notifyChannel = "signal:notify"

// RedisNotifier carries mailbox notifications between signaling instances
// that share a Redis store.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: notifyChannel}
}

func (n *RedisNotifier) Notify(ctx context.Context, roomID, participantID string) {
	if err := n.client.Publish(ctx, n.channel, roomID+"|"+participantID).Err(); err != nil {
		log.Warn().Err(err).Str("participant_id", participantID).Msg("Failed to publish notification")
	}
}

// Listen forwards published notifications to local until ctx is done.
func (n *RedisNotifier) Listen(ctx context.Context, local Notifier) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID, participantID, found := strings.Cut(msg.Payload, "|")
			if !found {
				continue
			}
			local.Notify(ctx, roomID, participantID)
		}
	}
}
