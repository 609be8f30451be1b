package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	LogLevel       string

	// StoreBackend selects room/mailbox persistence: memory, redis or postgres.
	StoreBackend string
	DatabaseURL  string
	Redis        RedisConfig

	Signaling SignalingConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// SignalingConfig holds the room lifetime and message expiry policy.
type SignalingConfig struct {
	AutoCreateRooms    bool
	MaxParticipants    int
	MessageTTL         time.Duration
	CandidateTTL       time.Duration
	RoomIdleTTL        time.Duration
	RoomMaxAge         time.Duration
	ParticipantTimeout time.Duration
	SweepInterval      time.Duration
}

// fileConfig mirrors the optional TOML file. Zero values leave defaults alone.
type fileConfig struct {
	Port           string   `toml:"port"`
	Environment    string   `toml:"environment"`
	AllowedOrigins []string `toml:"allowed_origins"`
	JWTSecret      string   `toml:"jwt_secret"`
	LogLevel       string   `toml:"log_level"`
	StoreBackend   string   `toml:"store_backend"`
	DatabaseURL    string   `toml:"database_url"`
	Redis          struct {
		Host     string `toml:"host"`
		Port     string `toml:"port"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	} `toml:"redis"`
	Signaling struct {
		AutoCreateRooms    *bool  `toml:"auto_create_rooms"`
		MaxParticipants    int    `toml:"max_participants"`
		MessageTTL         string `toml:"message_ttl"`
		CandidateTTL       string `toml:"candidate_ttl"`
		RoomIdleTTL        string `toml:"room_idle_ttl"`
		RoomMaxAge         string `toml:"room_max_age"`
		ParticipantTimeout string `toml:"participant_timeout"`
		SweepInterval      string `toml:"sweep_interval"`
	} `toml:"signaling"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           "8080",
		Environment:    "development",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		JWTSecret:      "change-me-in-production",
		LogLevel:       "info",
		StoreBackend:   "memory",
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		Signaling: SignalingConfig{
			AutoCreateRooms:    true,
			MaxParticipants:    8,
			MessageTTL:         24 * time.Hour,
			CandidateTTL:       30 * time.Second,
			RoomIdleTTL:        time.Hour,
			RoomMaxAge:         24 * time.Hour,
			ParticipantTimeout: 45 * time.Second,
			SweepInterval:      time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the optional CONFIG_FILE and
// the environment, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	// Parse allowed origins (comma-separated)
	if originsStr := os.Getenv("ALLOWED_ORIGINS"); originsStr != "" {
		cfg.AllowedOrigins = strings.Split(originsStr, ",")
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.StoreBackend = getEnv("STORE_BACKEND", cfg.StoreBackend)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnv("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	s := &cfg.Signaling
	s.AutoCreateRooms = getEnvBool("AUTO_CREATE_ROOMS", s.AutoCreateRooms)
	s.MaxParticipants = getEnvInt("MAX_PARTICIPANTS", s.MaxParticipants)
	s.MessageTTL = getEnvDuration("MESSAGE_TTL", s.MessageTTL)
	s.CandidateTTL = getEnvDuration("CANDIDATE_TTL", s.CandidateTTL)
	s.RoomIdleTTL = getEnvDuration("ROOM_IDLE_TTL", s.RoomIdleTTL)
	s.RoomMaxAge = getEnvDuration("ROOM_MAX_AGE", s.RoomMaxAge)
	s.ParticipantTimeout = getEnvDuration("PARTICIPANT_TIMEOUT", s.ParticipantTimeout)
	s.SweepInterval = getEnvDuration("SWEEP_INTERVAL", s.SweepInterval)

	return cfg, cfg.Validate()
}

// MinParticipantTimeout leaves room for a websocket keepalive at half the
// timeout plus a ping round trip.
const MinParticipantTimeout = 2 * time.Second

// SocketPongWait is how long a push socket may stay silent. Pings go out at
// 9/10 of it, so a live socket refreshes its participant at least twice per
// ParticipantTimeout.
func (s SignalingConfig) SocketPongWait() time.Duration {
	return s.ParticipantTimeout / 2
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "memory", "redis":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return errors.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.Signaling.CandidateTTL <= 0 || c.Signaling.MessageTTL <= 0 {
		return errors.New("message TTLs must be positive")
	}
	if c.Signaling.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.Signaling.ParticipantTimeout < MinParticipantTimeout {
		return errors.Errorf("participant timeout must be at least %s", MinParticipantTimeout)
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}

	setString(&c.Port, fc.Port)
	setString(&c.Environment, fc.Environment)
	setString(&c.JWTSecret, fc.JWTSecret)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.StoreBackend, fc.StoreBackend)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}

	setString(&c.Redis.Host, fc.Redis.Host)
	setString(&c.Redis.Port, fc.Redis.Port)
	setString(&c.Redis.Password, fc.Redis.Password)
	if fc.Redis.DB != 0 {
		c.Redis.DB = fc.Redis.DB
	}

	s := &c.Signaling
	if fc.Signaling.AutoCreateRooms != nil {
		s.AutoCreateRooms = *fc.Signaling.AutoCreateRooms
	}
	if fc.Signaling.MaxParticipants != 0 {
		s.MaxParticipants = fc.Signaling.MaxParticipants
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{fc.Signaling.MessageTTL, &s.MessageTTL},
		{fc.Signaling.CandidateTTL, &s.CandidateTTL},
		{fc.Signaling.RoomIdleTTL, &s.RoomIdleTTL},
		{fc.Signaling.RoomMaxAge, &s.RoomMaxAge},
		{fc.Signaling.ParticipantTimeout, &s.ParticipantTimeout},
		{fc.Signaling.SweepInterval, &s.SweepInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q in %s", d.raw, path)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
