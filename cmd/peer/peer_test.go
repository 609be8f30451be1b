package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/mossy-p/webrtc-studio/internal/peer"
	"github.com/stretchr/testify/assert"
)

func TestHandleCommand(t *testing.T) {
	m := peer.NewManager(nil, nil, peer.Config{})
	ctx := context.Background()
	var out bytes.Buffer

	assert.False(t, handleCommand(ctx, m, "mute", &out))
	assert.False(t, handleCommand(ctx, m, "status", &out))
	assert.Contains(t, out.String(), "alone in the room")

	out.Reset()
	assert.False(t, handleCommand(ctx, m, "dance", &out))
	assert.Contains(t, out.String(), `Unknown command "dance"`)

	assert.True(t, handleCommand(ctx, m, "quit", &out))
}

func TestRenderEdgesSorted(t *testing.T) {
	var out bytes.Buffer
	renderEdges(&out, map[string]peer.ConnectionState{
		"peer-b": {State: peer.StateReconnecting, Attempts: 2},
		"peer-a": {State: peer.StateConnected},
	})
	s := out.String()
	assert.Less(t, bytes.Index(out.Bytes(), []byte("peer-a")), bytes.Index(out.Bytes(), []byte("peer-b")))
	assert.Contains(t, s, "reconnecting")
}

func TestRenderRoom(t *testing.T) {
	left := time.Now()
	info := &models.RoomInfo{
		Room: models.Room{
			ID:              "r-1",
			Code:            "ABCD23",
			Title:           "Weekly sync",
			Status:          models.RoomStatusActive,
			MaxParticipants: 4,
			CreatedAt:       time.Now(),
		},
		Participants: []models.Participant{
			{DisplayName: "Alice", Role: models.RoleHost, JoinedAt: time.Now()},
			{DisplayName: "Bob", Role: models.RoleGuest, JoinedAt: time.Now(), LeftAt: &left},
		},
		ActiveCount: 1,
	}

	var out bytes.Buffer
	renderRoom(&out, info)
	s := out.String()
	assert.Contains(t, s, "Room ABCD23")
	assert.Contains(t, s, "1 / 4")
	assert.Contains(t, s, "Alice")
	assert.Contains(t, s, "left")
}
