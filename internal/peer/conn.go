package peer

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// PeerConnection is the part of *webrtc.PeerConnection the manager drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	WriteRTCP(pkts []rtcp.Packet) error
	GetStats() webrtc.StatsReport
	Close() error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// Factory opens a new peer connection for one edge.
type Factory func() (PeerConnection, error)

// DefaultICEServers are public STUN servers.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	}},
}

// FactoryOptions tune NewPionFactory.
type FactoryOptions struct {
	ICEServers []webrtc.ICEServer
	// RelayOnly forces TURN, for networks that block direct paths.
	RelayOnly bool
	// IncludeLoopback gathers 127.0.0.1 candidates. Only useful when both
	// peers live on the same host.
	IncludeLoopback bool
	// PLIInterval makes receivers request a keyframe periodically. Zero
	// keeps only the request sent when a video track arrives.
	PLIInterval time.Duration
	// PortMin and PortMax bound the UDP ports used for ICE.
	PortMin, PortMax uint16
}

// NewPionFactory returns a Factory backed by pion.
func NewPionFactory(opts FactoryOptions) (Factory, error) {
	servers := opts.ICEServers
	if servers == nil {
		servers = DefaultICEServers
	}
	policy := webrtc.ICETransportPolicyAll
	if opts.RelayOnly {
		policy = webrtc.ICETransportPolicyRelay
	}

	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)
	if opts.PortMin > 0 && opts.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, errors.Wrap(err, "invalid ICE port range")
		}
	}

	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(engine, registry); err != nil {
		return nil, errors.Wrap(err, "register interceptors")
	}
	if opts.PLIInterval > 0 {
		pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(opts.PLIInterval))
		if err != nil {
			return nil, errors.Wrap(err, "create PLI interceptor")
		}
		registry.Add(pli)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(engine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return func() (PeerConnection, error) {
		pc, err := api.NewPeerConnection(webrtc.Configuration{
			ICEServers:         servers,
			ICETransportPolicy: policy,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create peer connection")
		}
		return pc, nil
	}, nil
}
