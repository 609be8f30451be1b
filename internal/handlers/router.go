package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-studio/config"
	"github.com/mossy-p/webrtc-studio/internal/middleware"
	"github.com/mossy-p/webrtc-studio/internal/signaling"
)

// NewRouter wires every route of the signaling server.
func NewRouter(cfg *config.Config, t *signaling.Transport, hub *signaling.Hub) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(), CORS(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rooms := NewRoomHandler(t)
	signals := NewSignalHandler(t)
	ws := NewWSHandler(t, hub)
	auth := middleware.JWTAuth(cfg.JWTSecret)
	optional := middleware.OptionalJWT(cfg.JWTSecret)

	api := router.Group("/api")
	{
		api.POST("/auth/login", Login(cfg.JWTSecret))

		api.POST("/rooms", auth, rooms.CreateRoom)
		api.GET("/rooms/:roomId", rooms.GetRoom)
		api.DELETE("/rooms/:roomId", auth, rooms.DeleteRoom)
		api.POST("/rooms/:roomId/join", optional, rooms.JoinRoom)
		api.POST("/rooms/:roomId/leave", rooms.LeaveRoom)

		api.POST("/signal", optional, signals.PostSignal)
		api.GET("/signal", signals.GetSignal)
	}

	router.GET("/ws/signal/:roomId", optional, ws.HandleSignaling)

	return router
}
