package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/webrtc-studio/internal/middleware"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/mossy-p/webrtc-studio/internal/registry"
	"github.com/mossy-p/webrtc-studio/internal/signaling"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

type WSHandler struct {
	transport *signaling.Transport
	registry  *registry.Registry
	hub       *signaling.Hub
}

func NewWSHandler(t *signaling.Transport, hub *signaling.Hub) *WSHandler {
	return &WSHandler{transport: t, registry: t.Registry(), hub: hub}
}

// HandleSignaling upgrades to the push channel. A participantId attaches an
// existing participant; otherwise the caller joins with displayName and role.
func (h *WSHandler) HandleSignaling(c *gin.Context) {
	ctx := c.Request.Context()

	roomID, err := resolveForJoin(ctx, h.registry, c.Param("roomId"))
	if err != nil {
		respondError(c, err)
		return
	}

	participantID := c.Query("participantId")
	if participantID != "" {
		if _, err := h.registry.Participant(ctx, roomID, participantID); err != nil {
			respondError(c, err)
			return
		}
	} else {
		displayName := c.DefaultQuery("displayName", "Guest")
		accountID := c.Query("accountId")
		if userID := c.GetString(middleware.ContextUserID); userID != "" {
			accountID = userID
		}
		res, err := h.transport.Join(ctx, roomID, accountID, displayName, models.ParseRole(c.Query("role")))
		if err != nil {
			respondError(c, err)
			return
		}
		participantID = res.Participant.ID
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, http.Header{
		"X-Participant-Id": []string{participantID},
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	h.hub.Attach(context.WithoutCancel(ctx), conn, roomID, participantID)
}
