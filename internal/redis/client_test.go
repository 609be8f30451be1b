package redis

import (
	"context"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/webrtc-studio/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configFor(t *testing.T, addr string) config.RedisConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	return config.RedisConfig{Host: host, Port: port}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), configFor(t, mr.Addr()))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := configFor(t, mr.Addr())
	mr.Close()

	_, err := Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestAddr(t *testing.T) {
	assert.Equal(t, "localhost:6379", Addr(config.RedisConfig{Host: "localhost", Port: "6379"}))
}
