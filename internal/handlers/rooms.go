package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-studio/internal/middleware"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/mossy-p/webrtc-studio/internal/registry"
	"github.com/mossy-p/webrtc-studio/internal/signaling"
	"github.com/pkg/errors"
)

type RoomHandler struct {
	transport *signaling.Transport
	registry  *registry.Registry
}

func NewRoomHandler(t *signaling.Transport) *RoomHandler {
	return &RoomHandler{transport: t, registry: t.Registry()}
}

// CreateRoom creates a new room owned by the authenticated user
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "User not authenticated", Code: "unauthorized"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	room, err := h.registry.Create(c.Request.Context(), userID, req.Title, req.MaxParticipants)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID: room.ID,
		Code:   room.Code,
	})
}

// GetRoom gets room information by code or ID (public)
func (h *RoomHandler) GetRoom(c *gin.Context) {
	info, err := h.registry.Info(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// DeleteRoom deletes a room (requires authentication and owner)
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "User not authenticated", Code: "unauthorized"})
		return
	}

	roomID := c.Param("roomId")
	if room, err := h.registry.Resolve(c.Request.Context(), roomID); err == nil {
		roomID = room.ID
	}

	if err := h.registry.Delete(c.Request.Context(), roomID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// JoinRoom registers the caller as a participant. With a bearer token the
// token's user becomes the account id.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req models.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	roomID, err := resolveForJoin(c.Request.Context(), h.registry, c.Param("roomId"))
	if err != nil {
		respondError(c, err)
		return
	}

	accountID := req.AccountID
	if userID := c.GetString(middleware.ContextUserID); userID != "" {
		accountID = userID
	}

	res, err := h.transport.Join(c.Request.Context(), roomID, accountID, req.DisplayName, models.ParseRole(req.Role))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.JoinRoomResponse{
		RoomID:        roomID,
		ParticipantID: res.Participant.ID,
		Role:          res.Participant.Role,
		Participants:  res.Others,
	})
}

// LeaveRoom marks the participant as left and tells the room.
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	var req models.LeaveRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	roomID := c.Param("roomId")
	if room, err := h.registry.Resolve(c.Request.Context(), roomID); err == nil {
		roomID = room.ID
	}

	if err := h.transport.Leave(c.Request.Context(), roomID, req.ParticipantID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// resolveForJoin maps a room id or code to the room id to join. Unknown
// identifiers pass through when rooms are created on demand.
func resolveForJoin(ctx context.Context, reg *registry.Registry, ident string) (string, error) {
	if ident == "" {
		return "", errors.Wrap(models.ErrBadRequest, "roomId is required")
	}
	room, err := reg.Resolve(ctx, ident)
	if err == nil {
		return room.ID, nil
	}
	if errors.Is(err, models.ErrRoomNotFound) && reg.AutoCreate() {
		return ident, nil
	}
	return "", err
}
