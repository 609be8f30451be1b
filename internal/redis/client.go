package redis

import (
	"context"
	"net"
	"time"

	"github.com/mossy-p/webrtc-studio/config"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Addr is the host:port of the configured server.
func Addr(cfg config.RedisConfig) string {
	return net.JoinHostPort(cfg.Host, cfg.Port)
}

// Connect opens a client for the store backend and pings it. The client is
// closed again when the ping fails.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         Addr(cfg),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to connect to Redis at %s", Addr(cfg))
	}
	return client, nil
}
