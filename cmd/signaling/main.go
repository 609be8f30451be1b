package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mossy-p/webrtc-studio/config"
	"github.com/mossy-p/webrtc-studio/internal/database"
	"github.com/mossy-p/webrtc-studio/internal/handlers"
	"github.com/mossy-p/webrtc-studio/internal/logging"
	"github.com/mossy-p/webrtc-studio/internal/redis"
	"github.com/mossy-p/webrtc-studio/internal/registry"
	"github.com/mossy-p/webrtc-studio/internal/signaling"
	"github.com/mossy-p/webrtc-studio/internal/store"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Init(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, notifier, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("Failed to open store")
	}
	defer backend.Close()

	s := cfg.Signaling
	reg := registry.New(backend.Rooms, backend.Locker, registry.Options{
		AutoCreate:         s.AutoCreateRooms,
		MaxParticipants:    s.MaxParticipants,
		RoomIdleTTL:        s.RoomIdleTTL,
		RoomMaxAge:         s.RoomMaxAge,
		ParticipantTimeout: s.ParticipantTimeout,
	})
	transport := signaling.New(reg, backend.Mailbox, signaling.Options{
		MessageTTL:   s.MessageTTL,
		CandidateTTL: s.CandidateTTL,
	})
	hub := signaling.NewHub(transport, signaling.WithPongWait(s.SocketPongWait()))

	if notifier != nil {
		transport.SetNotifier(notifier)
		go func() {
			if err := notifier.Listen(ctx, hub); err != nil {
				log.Error().Err(err).Msg("Notification listener stopped")
			}
		}()
	} else {
		transport.SetNotifier(hub)
	}

	go reg.Run(ctx, s.SweepInterval, transport.PurgeExpired)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(cfg, transport, hub),
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("backend", cfg.StoreBackend).
			Bool("auto_create", s.AutoCreateRooms).
			Msg("Starting WebRTC signaling server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

// openBackend connects the configured store. Redis also returns a
// notifier so push clients on other instances are woken.
func openBackend(ctx context.Context, cfg *config.Config) (*store.Backend, *signaling.RedisNotifier, error) {
	switch cfg.StoreBackend {
	case "redis":
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("host", cfg.Redis.Host).Msg("Redis connection established")
		rs := store.NewRedis(client, cfg.Signaling.RoomMaxAge, cfg.Signaling.MessageTTL)
		return rs.Backend(), signaling.NewRedisNotifier(client), nil

	case "postgres":
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		sqlStore := store.NewSQL(db)
		if err := sqlStore.Migrate(); err != nil {
			return nil, nil, err
		}
		return sqlStore.Backend(nil), nil, nil
	}
	return store.NewMemory().Backend(), nil, nil
}
