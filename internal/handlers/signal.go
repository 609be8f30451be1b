package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-studio/internal/middleware"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/mossy-p/webrtc-studio/internal/registry"
	"github.com/mossy-p/webrtc-studio/internal/signaling"
)

// SignalHandler serves the polling variant of the transport.
type SignalHandler struct {
	transport *signaling.Transport
	registry  *registry.Registry
}

func NewSignalHandler(t *signaling.Transport) *SignalHandler {
	return &SignalHandler{transport: t, registry: t.Registry()}
}

// PostSignal accepts one message. JOIN registers the sender, whose fromId is
// then taken as the account id, and LEAVE removes it. Everything else is
// routed to toId or broadcast.
func (h *SignalHandler) PostSignal(c *gin.Context) {
	var req models.SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.Type.Valid() {
		badRequest(c, "unknown message type "+string(req.Type))
		return
	}
	ctx := c.Request.Context()

	switch req.Type {
	case models.SignalTypeJoin:
		roomID, err := resolveForJoin(ctx, h.registry, req.RoomID)
		if err != nil {
			respondError(c, err)
			return
		}
		accountID := req.FromID
		if userID := c.GetString(middleware.ContextUserID); userID != "" {
			accountID = userID
		}
		displayName := req.DisplayName
		if displayName == "" {
			displayName = "Guest"
		}

		res, err := h.transport.Join(ctx, roomID, accountID, displayName, models.ParseRole(string(req.Role)))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SignalResponse{
			Success:      true,
			Message:      models.SignalAck{RoomID: roomID, FromID: res.Participant.ID, Type: req.Type, Role: res.Participant.Role},
			Participants: res.Others,
		})

	case models.SignalTypeLeave:
		if req.FromID == "" {
			badRequest(c, "fromId is required")
			return
		}
		if err := h.transport.Leave(ctx, req.RoomID, req.FromID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SignalResponse{
			Success: true,
			Message: models.SignalAck{FromID: req.FromID, Type: req.Type},
		})

	default:
		if req.FromID == "" {
			badRequest(c, "fromId is required")
			return
		}
		msg, err := h.transport.Send(ctx, req.RoomID, req.FromID, req.ToID, req.Type, req.Data())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SignalResponse{
			Success: true,
			Message: models.SignalAck{FromID: msg.FromID, Type: msg.Type},
		})
	}
}

// GetSignal returns the caller's pending messages, oldest first.
func (h *SignalHandler) GetSignal(c *gin.Context) {
	roomID := c.Query("roomId")
	from := c.Query("from")
	if roomID == "" || from == "" {
		badRequest(c, "roomId and from are required")
		return
	}

	since, err := parseSince(c.Query("since"))
	if err != nil {
		badRequest(c, "since must be RFC 3339 or unix milliseconds")
		return
	}

	msgs, err := h.transport.Poll(c.Request.Context(), roomID, from, since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
