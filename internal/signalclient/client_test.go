package signalclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-studio/config"
	"github.com/mossy-p/webrtc-studio/internal/handlers"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/mossy-p/webrtc-studio/internal/registry"
	"github.com/mossy-p/webrtc-studio/internal/signaling"
	"github.com/mossy-p/webrtc-studio/internal/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(cfg)
	}

	mem := store.NewMemory()
	reg := registry.New(mem, mem, registry.Options{
		AutoCreate:         cfg.Signaling.AutoCreateRooms,
		MaxParticipants:    cfg.Signaling.MaxParticipants,
		RoomIdleTTL:        cfg.Signaling.RoomIdleTTL,
		RoomMaxAge:         cfg.Signaling.RoomMaxAge,
		ParticipantTimeout: cfg.Signaling.ParticipantTimeout,
	})
	tr := signaling.New(reg, mem, signaling.Options{
		MessageTTL:   cfg.Signaling.MessageTTL,
		CandidateTTL: cfg.Signaling.CandidateTTL,
	})
	hub := signaling.NewHub(tr, signaling.WithPongWait(cfg.Signaling.SocketPongWait()))
	tr.SetNotifier(hub)

	srv := httptest.NewServer(handlers.NewRouter(cfg, tr, hub))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func types(msgs []models.SignalMessage) []models.SignalType {
	out := make([]models.SignalType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func TestHTTPClientExchange(t *testing.T) {
	srv := newServer(t, nil)
	ctx := testContext(t)
	api := NewAPI(srv.URL, "")

	alice := NewHTTPClient(api, "standup", "alice")
	resA, err := alice.Join(ctx, "Alice", models.RoleGuest)
	require.NoError(t, err)
	assert.Equal(t, "standup", resA.RoomID)
	assert.Equal(t, models.RoleHost, resA.Role, "first joiner of an auto-created room hosts it")
	assert.Empty(t, resA.Participants)

	bob := NewHTTPClient(api, "standup", "bob")
	resB, err := bob.Join(ctx, "Bob", models.RoleGuest)
	require.NoError(t, err)
	assert.Equal(t, models.RoleGuest, resB.Role)
	require.Len(t, resB.Participants, 1)
	assert.Equal(t, resA.ParticipantID, resB.Participants[0].ID)

	msgs, err := alice.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []models.SignalType{models.SignalTypeJoin}, types(msgs))
	assert.Equal(t, resB.ParticipantID, msgs[0].FromID)
	assert.Equal(t, "Bob", msgs[0].Data.DisplayName)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	to := resA.ParticipantID
	require.NoError(t, bob.Send(ctx, &to, models.SignalTypeOffer, models.SignalData{Offer: offer}))

	msgs, err = alice.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []models.SignalType{models.SignalTypeOffer}, types(msgs))
	assert.JSONEq(t, string(offer), string(msgs[0].Data.Offer))

	msgs, err = alice.Receive(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs, "delivered messages are not repeated")

	require.NoError(t, bob.Leave(ctx))
	msgs, err = alice.Receive(ctx)
	require.NoError(t, err)
	assert.Contains(t, types(msgs), models.SignalTypeLeave)

	_, err = bob.Receive(ctx)
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestHTTPClientErrors(t *testing.T) {
	srv := newServer(t, func(c *config.Config) { c.Signaling.AutoCreateRooms = false })
	ctx := testContext(t)
	api := NewAPI(srv.URL, "")

	_, err := NewHTTPClient(api, "missing", "alice").Join(ctx, "Alice", models.RoleGuest)
	assert.ErrorIs(t, err, models.ErrRoomNotFound)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, models.CodeRoomNotFound, apiErr.Code)

	token, err := api.Login(ctx, "owner", "pw")
	require.NoError(t, err)
	room, err := api.WithToken(token).CreateRoom(ctx, "Review", 4)
	require.NoError(t, err)

	ghost := NewHTTPClient(api, room.RoomID, "ghost")
	ghost.participantID = "not-a-participant"
	_, err = ghost.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrParticipantNotFound)
}

func TestAPIRoomLifecycle(t *testing.T) {
	srv := newServer(t, nil)
	ctx := testContext(t)
	api := NewAPI(srv.URL, "")

	_, err := api.CreateRoom(ctx, "Anonymous", 4)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	token, err := api.Login(ctx, "owner", "pw")
	require.NoError(t, err)
	owner := api.WithToken(token)

	created, err := owner.CreateRoom(ctx, "Weekly sync", 4)
	require.NoError(t, err)
	require.NotEmpty(t, created.Code)

	info, err := api.GetRoom(ctx, created.Code)
	require.NoError(t, err)
	assert.Equal(t, created.RoomID, info.ID)
	assert.Equal(t, "Weekly sync", info.Title)
	assert.Equal(t, 4, info.MaxParticipants)

	joined, err := api.JoinRoom(ctx, created.Code, models.JoinRoomRequest{DisplayName: "Guest", AccountID: "guest-1"})
	require.NoError(t, err)
	assert.Equal(t, created.RoomID, joined.RoomID)
	require.NoError(t, api.LeaveRoom(ctx, joined.RoomID, joined.ParticipantID))

	// The room ended when its last participant left, so only the id resolves.
	require.NoError(t, owner.DeleteRoom(ctx, created.RoomID))
	_, err = api.GetRoom(ctx, created.Code)
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}

func receiveUntil(t *testing.T, ctx context.Context, c *WSClient, want models.SignalType) models.SignalMessage {
	t.Helper()
	for {
		msgs, err := c.Receive(ctx)
		require.NoError(t, err)
		for _, m := range msgs {
			if m.Type == want {
				return m
			}
		}
	}
}

func TestWSClientExchange(t *testing.T) {
	srv := newServer(t, nil)
	ctx := testContext(t)
	api := NewAPI(srv.URL, "")

	alice := NewWSClient(api, "huddle", "alice")
	resA, err := alice.Join(ctx, "Alice", models.RoleGuest)
	require.NoError(t, err)
	defer alice.Close()

	bob := NewWSClient(api, "huddle", "bob")
	resB, err := bob.Join(ctx, "Bob", models.RoleGuest)
	require.NoError(t, err)
	defer bob.Close()

	join := receiveUntil(t, ctx, alice, models.SignalTypeJoin)
	assert.Equal(t, resB.ParticipantID, join.FromID)

	to := resA.ParticipantID
	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}`)
	require.NoError(t, bob.Send(ctx, &to, models.SignalTypeCandidate, models.SignalData{Candidate: candidate}))

	got := receiveUntil(t, ctx, alice, models.SignalTypeCandidate)
	assert.Equal(t, resB.ParticipantID, got.FromID)
	assert.JSONEq(t, string(candidate), string(got.Data.Candidate))

	require.NoError(t, bob.Leave(ctx))
	left := receiveUntil(t, ctx, alice, models.SignalTypeLeave)
	assert.Equal(t, resB.ParticipantID, left.FromID)
}

func TestWSClientRejectedHandshake(t *testing.T) {
	srv := newServer(t, nil)
	ctx := testContext(t)
	api := NewAPI(srv.URL, "")

	_, err := NewHTTPClient(api, "lobby", "alice").Join(ctx, "Alice", models.RoleGuest)
	require.NoError(t, err)

	c := NewWSClient(api, "lobby", "ghost")
	c.session = &models.JoinRoomResponse{RoomID: "lobby", ParticipantID: "not-a-participant"}
	_, err = c.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrParticipantNotFound)

	assert.ErrorIs(t, c.Send(ctx, nil, models.SignalTypeMute, models.SignalData{}), ErrDisconnected)
}

func TestWSURL(t *testing.T) {
	c := NewWSClient(NewAPI("https://signal.example.com/base/", ""), "r", "a")
	u, err := c.wsURL("room 1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "wss://signal.example.com/base/ws/signal/room%201?participantId=p1", u)
}
