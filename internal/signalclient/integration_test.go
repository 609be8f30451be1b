package signalclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/webrtc-studio/internal/media"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/mossy-p/webrtc-studio/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type connectedSet struct {
	peer.NopObserver

	mu        sync.Mutex
	connected map[string]bool
}

func (c *connectedSet) OnConnectionStateChange(peerID string, st peer.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.State == peer.StateConnected {
		c.connected[peerID] = true
	}
}

func (c *connectedSet) has(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected[peerID]
}

func startPeer(t *testing.T, api *API, room, account, name string) (*peer.Manager, *connectedSet) {
	t.Helper()
	ctx := context.Background()

	factory, err := peer.NewPionFactory(peer.FactoryOptions{
		ICEServers:      []webrtc.ICEServer{},
		IncludeLoopback: true,
		PLIInterval:     time.Second,
	})
	require.NoError(t, err)
	m := peer.NewManager(NewHTTPClient(api, room, account), factory, peer.Config{
		DisplayName:  name,
		PollInterval: 20 * time.Millisecond,
	})
	obs := &connectedSet{connected: make(map[string]bool)}
	m.SetObserver(obs)

	_, err = m.InitializeLocalStream(ctx, media.StaticSource{HasAudio: true, HasVideo: true}, media.DefaultConstraints())
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { m.Cleanup(context.Background()) })
	return m, obs
}

func TestHostAndGuestConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}
	srv := newServer(t, nil)
	api := NewAPI(srv.URL, "")

	host, hostObs := startPeer(t, api, "studio", "host-account", "Host")
	guest, guestObs := startPeer(t, api, "studio", "guest-account", "Guest")

	require.Equal(t, models.RoleHost, host.Role())
	require.Equal(t, models.RoleGuest, guest.Role())

	require.Eventually(t, func() bool {
		return hostObs.has(guest.Self()) && guestObs.has(host.Self())
	}, 20*time.Second, 50*time.Millisecond)
}
