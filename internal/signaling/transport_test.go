package signaling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/mossy-p/webrtc-studio/internal/registry"
	"github.com/mossy-p/webrtc-studio/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls map[string]int
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, participantID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = make(map[string]int)
	}
	n.calls[participantID]++
}

func (n *recordingNotifier) count(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[id]
}

func newTransport(t *testing.T) *Transport {
	return newTransportWithTimeout(t, 45*time.Second)
}

func newTransportWithTimeout(t *testing.T, participantTimeout time.Duration) *Transport {
	t.Helper()
	mem := store.NewMemory()
	reg := registry.New(mem, mem, registry.Options{
		AutoCreate:         true,
		MaxParticipants:    8,
		RoomIdleTTL:        time.Hour,
		RoomMaxAge:         24 * time.Hour,
		ParticipantTimeout: participantTimeout,
	})
	return New(reg, mem, Options{MessageTTL: 24 * time.Hour, CandidateTTL: 30 * time.Second})
}

func join(t *testing.T, tr *Transport, room, account string, role models.Role) models.Participant {
	t.Helper()
	res, err := tr.Join(context.Background(), room, account, account, role)
	require.NoError(t, err)
	return res.Participant
}

func poll(t *testing.T, tr *Transport, room, id string) []models.SignalMessage {
	t.Helper()
	msgs, err := tr.Poll(context.Background(), room, id, time.Time{})
	require.NoError(t, err)
	return msgs
}

func types(msgs []models.SignalMessage) []models.SignalType {
	out := make([]models.SignalType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func TestJoinAnnouncesToOthers(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()

	a := join(t, tr, "studio", "alice", models.RoleHost)
	res, err := tr.Join(ctx, "studio", "bob", "Bob", models.RoleGuest)
	require.NoError(t, err)
	require.Len(t, res.Others, 1)
	assert.Equal(t, a.ID, res.Others[0].ID)

	msgs := poll(t, tr, "studio", a.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SignalTypeJoin, msgs[0].Type)
	assert.Equal(t, res.Participant.ID, msgs[0].FromID)
	assert.Equal(t, "Bob", msgs[0].Data.DisplayName)
	assert.Equal(t, models.RoleGuest, msgs[0].Data.Role)

	assert.Empty(t, poll(t, tr, "studio", res.Participant.ID))
}

func TestBroadcastReachesEveryOtherParticipantOnce(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()

	a := join(t, tr, "studio", "alice", models.RoleHost)
	b := join(t, tr, "studio", "bob", models.RoleGuest)
	c := join(t, tr, "studio", "carol", models.RoleGuest)
	for _, p := range []models.Participant{a, b, c} {
		poll(t, tr, "studio", p.ID)
	}

	_, err := tr.Send(ctx, "studio", a.ID, nil, models.SignalTypeMute, models.SignalData{})
	require.NoError(t, err)

	for _, p := range []models.Participant{b, c} {
		msgs := poll(t, tr, "studio", p.ID)
		require.Len(t, msgs, 1, p.AccountID)
		assert.Equal(t, models.SignalTypeMute, msgs[0].Type)
		assert.Equal(t, a.ID, msgs[0].FromID)
		assert.True(t, msgs[0].Processed)
		assert.Empty(t, poll(t, tr, "studio", p.ID), "delivered at most once")
	}
	assert.Empty(t, poll(t, tr, "studio", a.ID), "sender gets no copy")
}

func TestTargetedMessagesKeepOrder(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()

	a := join(t, tr, "studio", "alice", models.RoleHost)
	b := join(t, tr, "studio", "bob", models.RoleGuest)
	c := join(t, tr, "studio", "carol", models.RoleGuest)
	poll(t, tr, "studio", b.ID)
	poll(t, tr, "studio", c.ID)

	sequence := []models.SignalType{models.SignalTypeOffer, models.SignalTypeCandidate, models.SignalTypeCandidate, models.SignalTypeVideoOff}
	for _, typ := range sequence {
		_, err := tr.Send(ctx, "studio", a.ID, &b.ID, typ, models.SignalData{})
		require.NoError(t, err)
	}

	msgs := poll(t, tr, "studio", b.ID)
	assert.Equal(t, sequence, types(msgs))
	for _, m := range msgs {
		require.NotNil(t, m.ToID)
		assert.Equal(t, b.ID, *m.ToID)
	}
	assert.Empty(t, poll(t, tr, "studio", c.ID))
}

func TestCandidatesExpireBeforeOffers(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()
	base := time.Now()
	tr.now = func() time.Time { return base }

	a := join(t, tr, "studio", "alice", models.RoleHost)
	b := join(t, tr, "studio", "bob", models.RoleGuest)
	poll(t, tr, "studio", a.ID)

	_, err := tr.Send(ctx, "studio", b.ID, &a.ID, models.SignalTypeOffer, models.SignalData{Offer: []byte(`{"type":"offer","sdp":"v=0"}`)})
	require.NoError(t, err)
	_, err = tr.Send(ctx, "studio", b.ID, &a.ID, models.SignalTypeCandidate, models.SignalData{Candidate: []byte(`{"candidate":"c"}`)})
	require.NoError(t, err)

	tr.now = func() time.Time { return base.Add(31 * time.Second) }
	msgs := poll(t, tr, "studio", a.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SignalTypeOffer, msgs[0].Type)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(msgs[0].Data.Offer))
}

func TestPollSince(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()
	base := time.Now()
	tr.now = func() time.Time { return base }

	a := join(t, tr, "studio", "alice", models.RoleHost)
	b := join(t, tr, "studio", "bob", models.RoleGuest)

	_, err := tr.Send(ctx, "studio", b.ID, &a.ID, models.SignalTypeOffer, models.SignalData{})
	require.NoError(t, err)
	tr.now = func() time.Time { return base.Add(time.Second) }
	_, err = tr.Send(ctx, "studio", b.ID, &a.ID, models.SignalTypeMute, models.SignalData{})
	require.NoError(t, err)

	msgs, err := tr.Poll(ctx, "studio", a.ID, base)
	require.NoError(t, err)
	assert.Equal(t, []models.SignalType{models.SignalTypeMute}, types(msgs))
}

func TestSendValidation(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()

	a := join(t, tr, "studio", "alice", models.RoleHost)
	ghost := "ghost"

	_, err := tr.Send(ctx, "studio", a.ID, &ghost, models.SignalTypeOffer, models.SignalData{})
	assert.ErrorIs(t, err, models.ErrParticipantNotFound)

	_, err = tr.Send(ctx, "studio", ghost, nil, models.SignalTypeOffer, models.SignalData{})
	assert.ErrorIs(t, err, models.ErrParticipantNotFound)

	_, err = tr.Send(ctx, "studio", a.ID, nil, models.SignalType("PING"), models.SignalData{})
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = tr.Send(ctx, "studio", a.ID, nil, models.SignalTypeJoin, models.SignalData{})
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = tr.Poll(ctx, "nowhere", a.ID, time.Time{})
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}

func TestLeaveBroadcasts(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()

	a := join(t, tr, "studio", "alice", models.RoleHost)
	b := join(t, tr, "studio", "bob", models.RoleGuest)
	c := join(t, tr, "studio", "carol", models.RoleGuest)
	for _, p := range []models.Participant{a, b, c} {
		poll(t, tr, "studio", p.ID)
	}

	require.NoError(t, tr.Leave(ctx, "studio", b.ID))
	assert.Equal(t, []models.SignalType{models.SignalTypeLeave}, types(poll(t, tr, "studio", a.ID)))
	assert.Equal(t, []models.SignalType{models.SignalTypeLeave}, types(poll(t, tr, "studio", c.ID)))

	_, err := tr.Poll(ctx, "studio", b.ID, time.Time{})
	assert.ErrorIs(t, err, models.ErrParticipantNotFound)

	require.NoError(t, tr.Leave(ctx, "studio", a.ID))
	msgs := poll(t, tr, "studio", c.ID)
	assert.Equal(t, []models.SignalType{models.SignalTypeLeave, models.SignalTypeHostLeft}, types(msgs))
	assert.Equal(t, a.ID, msgs[1].FromID)

	require.NoError(t, tr.Leave(ctx, "studio", c.ID))
	_, err = tr.Poll(ctx, "studio", c.ID, time.Time{})
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}

func TestLeaveDropsPendingMessages(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()

	a := join(t, tr, "studio", "alice", models.RoleHost)
	b := join(t, tr, "studio", "bob", models.RoleGuest)
	_, err := tr.Send(ctx, "studio", a.ID, &b.ID, models.SignalTypeOffer, models.SignalData{})
	require.NoError(t, err)

	require.NoError(t, tr.Leave(ctx, "studio", b.ID))
	back, err := tr.Join(ctx, "studio", "bob", "Bob", models.RoleGuest)
	require.NoError(t, err)
	assert.Equal(t, b.ID, back.Participant.ID)
	assert.Empty(t, poll(t, tr, "studio", b.ID))
}

func TestNotifierSeesEachRecipient(t *testing.T) {
	tr := newTransport(t)
	n := &recordingNotifier{}
	tr.SetNotifier(n)
	ctx := context.Background()

	a := join(t, tr, "studio", "alice", models.RoleHost)
	b := join(t, tr, "studio", "bob", models.RoleGuest)
	assert.Equal(t, 1, n.count(a.ID))

	_, err := tr.Send(ctx, "studio", a.ID, nil, models.SignalTypeOffer, models.SignalData{})
	require.NoError(t, err)
	assert.Equal(t, 1, n.count(b.ID))
	assert.Equal(t, 1, n.count(a.ID))
}

func TestPurgeExpired(t *testing.T) {
	tr := newTransport(t)
	ctx := context.Background()
	base := time.Now()
	tr.now = func() time.Time { return base }

	a := join(t, tr, "studio", "alice", models.RoleHost)
	b := join(t, tr, "studio", "bob", models.RoleGuest)
	poll(t, tr, "studio", a.ID)
	_, err := tr.Send(ctx, "studio", a.ID, &b.ID, models.SignalTypeCandidate, models.SignalData{})
	require.NoError(t, err)

	tr.now = func() time.Time { return base.Add(time.Minute) }
	tr.PurgeExpired(ctx)

	tr.now = func() time.Time { return base }
	assert.Empty(t, poll(t, tr, "studio", b.ID))
}
