package peer

import (
	"context"

	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pion/webrtc/v4"
)

// State of one edge.
type State string

const (
	StateNew          State = "new"
	StateNegotiating  State = "negotiating"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Stats are cumulative transport counters for one edge.
type Stats struct {
	BytesReceived uint64
	BytesSent     uint64
	PacketsLost   int64
	// RoundTripTime of the nominated candidate pair, in seconds.
	RoundTripTime float64
}

// ConnectionState is what observers see for an edge.
type ConnectionState struct {
	State        State
	Reconnecting bool
	Attempts     int
	Stats        *Stats
	// Err is set on the terminal failure notification.
	Err error
}

// Observer receives manager events. Callbacks run on manager goroutines and
// must not block.
type Observer interface {
	OnTrack(track *webrtc.TrackRemote, peerID, displayName string)
	OnConnectionStateChange(peerID string, state ConnectionState)
	// OnPeerEvent reports remote MUTE, UNMUTE, VIDEO_ON, VIDEO_OFF and HOST_LEFT.
	OnPeerEvent(peerID string, event models.SignalType)
	OnSignalingError(err error)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) OnTrack(*webrtc.TrackRemote, string, string)     {}
func (NopObserver) OnConnectionStateChange(string, ConnectionState) {}
func (NopObserver) OnPeerEvent(string, models.SignalType)           {}
func (NopObserver) OnSignalingError(error)                          {}

// Signaler is the client side of the signaling transport.
type Signaler interface {
	// Join enters the room and returns this session and the others present.
	Join(ctx context.Context, displayName string, role models.Role) (*models.JoinRoomResponse, error)
	Send(ctx context.Context, toID *string, typ models.SignalType, data models.SignalData) error
	// Receive returns the next batch of messages for this participant.
	Receive(ctx context.Context) ([]models.SignalMessage, error)
	Leave(ctx context.Context) error
}
