package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 30*time.Second, cfg.Signaling.CandidateTTL)
	assert.Equal(t, 24*time.Hour, cfg.Signaling.MessageTTL)
	assert.True(t, cfg.Signaling.AutoCreateRooms)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("CANDIDATE_TTL", "10s")
	t.Setenv("AUTO_CREATE_ROOMS", "false")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.Signaling.CandidateTTL)
	assert.False(t, cfg.Signaling.AutoCreateRooms)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studio.toml")
	body := `
port = "7000"
store_backend = "redis"

[redis]
host = "cache"

[signaling]
auto_create_rooms = false
room_idle_ttl = "2h"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7001", cfg.Port, "env wins over file")
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, "cache", cfg.Redis.Host)
	assert.Equal(t, 2*time.Hour, cfg.Signaling.RoomIdleTTL)
	assert.False(t, cfg.Signaling.AutoCreateRooms)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.StoreBackend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg.DatabaseURL = "postgres://localhost/studio"
	assert.NoError(t, cfg.Validate())

	cfg.StoreBackend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Signaling.ParticipantTimeout = time.Second
	assert.Error(t, cfg.Validate())
}

func TestSocketKeepaliveBelowParticipantTimeout(t *testing.T) {
	s := Default().Signaling
	pingPeriod := s.SocketPongWait() * 9 / 10
	assert.Less(t, pingPeriod, s.ParticipantTimeout/2)
}
