package signalclient

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pkg/errors"
)

// ErrNotJoined is returned by session calls made before Join.
var ErrNotJoined = errors.New("not joined")

// HTTPClient is the polling transport: every message is a POST to
// /api/signal and Receive is one GET.
type HTTPClient struct {
	api       *API
	accountID string

	mu            sync.Mutex
	roomID        string
	participantID string
}

// NewHTTPClient joins roomID (an id or code) as accountID. Without a token
// the server takes accountID as given.
func NewHTTPClient(api *API, roomID, accountID string) *HTTPClient {
	return &HTTPClient{api: api, roomID: roomID, accountID: accountID}
}

func (c *HTTPClient) session() (roomID, participantID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.participantID == "" {
		return "", "", ErrNotJoined
	}
	return c.roomID, c.participantID, nil
}

func (c *HTTPClient) Join(ctx context.Context, displayName string, role models.Role) (*models.JoinRoomResponse, error) {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()

	req := models.SignalRequest{
		RoomID:      roomID,
		Type:        models.SignalTypeJoin,
		FromID:      c.accountID,
		DisplayName: displayName,
		Role:        role,
	}
	var res models.SignalResponse
	if err := c.api.do(ctx, http.MethodPost, "/api/signal", req, &res); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if res.Message.RoomID != "" {
		c.roomID = res.Message.RoomID
	}
	c.participantID = res.Message.FromID
	roomID = c.roomID
	c.mu.Unlock()

	return &models.JoinRoomResponse{
		RoomID:        roomID,
		ParticipantID: res.Message.FromID,
		Role:          res.Message.Role,
		Participants:  res.Participants,
	}, nil
}

func (c *HTTPClient) Send(ctx context.Context, toID *string, typ models.SignalType, data models.SignalData) error {
	roomID, pid, err := c.session()
	if err != nil {
		return err
	}
	req := models.SignalRequest{
		RoomID:      roomID,
		Type:        typ,
		FromID:      pid,
		ToID:        toID,
		Offer:       data.Offer,
		Answer:      data.Answer,
		Candidate:   data.Candidate,
		Error:       data.Error,
		DisplayName: data.DisplayName,
		Role:        data.Role,
	}
	return c.api.do(ctx, http.MethodPost, "/api/signal", req, nil)
}

// Receive fetches and consumes everything pending for this participant.
func (c *HTTPClient) Receive(ctx context.Context) ([]models.SignalMessage, error) {
	roomID, pid, err := c.session()
	if err != nil {
		return nil, err
	}
	q := url.Values{"roomId": {roomID}, "from": {pid}}
	var msgs []models.SignalMessage
	if err := c.api.do(ctx, http.MethodGet, "/api/signal?"+q.Encode(), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *HTTPClient) Leave(ctx context.Context) error {
	roomID, pid, err := c.session()
	if err != nil {
		return err
	}
	req := models.SignalRequest{RoomID: roomID, Type: models.SignalTypeLeave, FromID: pid}
	if err := c.api.do(ctx, http.MethodPost, "/api/signal", req, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.participantID = ""
	c.mu.Unlock()
	return nil
}
