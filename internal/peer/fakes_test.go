package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// fakePC walks the signaling state machine without any networking.
type fakePC struct {
	mu           sync.Mutex
	id           int
	offers       int
	restarts     int
	local        *webrtc.SessionDescription
	remote       *webrtc.SessionDescription
	setRemotes   int
	state        webrtc.SignalingState
	candidates   []webrtc.ICECandidateInit
	tracks       []webrtc.TrackLocal
	transceivers []webrtc.RTPCodecType
	closed       bool

	onConn func(webrtc.PeerConnectionState)
	onICE  func(webrtc.ICEConnectionState)
}

func (p *fakePC) AddTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return nil, nil
}

func (p *fakePC) AddTransceiverFromKind(kind webrtc.RTPCodecType, _ ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transceivers = append(p.transceivers, kind)
	return nil, nil
}

func (p *fakePC) CreateOffer(o *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, errors.New("closed")
	}
	p.offers++
	if o != nil && o.ICERestart {
		p.restarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", p.id, p.offers)}, nil
}

func (p *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.id)}, nil
}

func (p *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch d.Type {
	case webrtc.SDPTypeOffer:
		p.state = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		p.state = webrtc.SignalingStateStable
	case webrtc.SDPTypeRollback:
		p.state = webrtc.SignalingStateStable
		p.local = nil
		return nil
	}
	p.local = &d
	return nil
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if p.state != webrtc.SignalingStateStable {
			return errors.New("offer in wrong state")
		}
		p.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if p.state != webrtc.SignalingStateHaveLocalOffer {
			return errors.New("answer in wrong state")
		}
		p.state = webrtc.SignalingStateStable
	}
	p.setRemotes++
	p.remote = &d
	return nil
}

func (p *fakePC) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePC) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("no remote description")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePC) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == webrtc.SignalingStateUnknown {
		return webrtc.SignalingStateStable
	}
	return p.state
}

func (p *fakePC) ConnectionState() webrtc.PeerConnectionState { return webrtc.PeerConnectionStateNew }

func (p *fakePC) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (p *fakePC) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	p.mu.Lock()
	p.onICE = f
	p.mu.Unlock()
}

func (p *fakePC) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onConn = f
	p.mu.Unlock()
}

func (p *fakePC) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (p *fakePC) WriteRTCP([]rtcp.Packet) error { return nil }

func (p *fakePC) GetStats() webrtc.StatsReport {
	return webrtc.StatsReport{
		"in":  webrtc.InboundRTPStreamStats{BytesReceived: 100, PacketsLost: 2},
		"out": webrtc.OutboundRTPStreamStats{BytesSent: 50},
	}
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePC) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePC) fire(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	f := p.onConn
	p.mu.Unlock()
	f(s)
}

func (p *fakePC) fireICE(s webrtc.ICEConnectionState) {
	p.mu.Lock()
	f := p.onICE
	p.mu.Unlock()
	f(s)
}

type fakeFactory struct {
	mu  sync.Mutex
	pcs []*fakePC
}

func (f *fakeFactory) New() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePC{id: len(f.pcs) + 1, state: webrtc.SignalingStateStable}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

func (f *fakeFactory) last() *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pcs[len(f.pcs)-1]
}

type sent struct {
	to   *string
	typ  models.SignalType
	data models.SignalData
}

type batch struct {
	msgs []models.SignalMessage
	err  error
}

type fakeSignaler struct {
	mu     sync.Mutex
	join   models.JoinRoomResponse
	joins  int
	leaves int
	sent   []sent

	inbox chan batch
}

func newFakeSignaler(self string, others ...models.Participant) *fakeSignaler {
	return &fakeSignaler{
		join:  models.JoinRoomResponse{RoomID: "room-1", ParticipantID: self, Role: models.RoleGuest, Participants: others},
		inbox: make(chan batch, 16),
	}
}

func (s *fakeSignaler) Join(context.Context, string, models.Role) (*models.JoinRoomResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins++
	res := s.join
	return &res, nil
}

func (s *fakeSignaler) Send(_ context.Context, to *string, typ models.SignalType, data models.SignalData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{to: to, typ: typ, data: data})
	return nil
}

func (s *fakeSignaler) Receive(ctx context.Context) ([]models.SignalMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b := <-s.inbox:
		return b.msgs, b.err
	}
}

func (s *fakeSignaler) Leave(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves++
	return nil
}

func (s *fakeSignaler) sentOf(typ models.SignalType) []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sent
	for _, m := range s.sent {
		if m.typ == typ {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSignaler) joinCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joins
}

type recorder struct {
	mu     sync.Mutex
	states map[string][]ConnectionState
	events []models.SignalType
	errs   []error
}

func newRecorder() *recorder {
	return &recorder{states: make(map[string][]ConnectionState)}
}

func (r *recorder) OnTrack(*webrtc.TrackRemote, string, string) {}

func (r *recorder) OnConnectionStateChange(peerID string, st ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[peerID] = append(r.states[peerID], st)
}

func (r *recorder) OnPeerEvent(_ string, ev models.SignalType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnSignalingError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) terminal(peerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.states[peerID] {
		if errors.Is(st.Err, ErrConnectionTerminallyFailed) {
			n++
		}
	}
	return n
}

func (r *recorder) signalingErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) peerEvents() []models.SignalType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SignalType(nil), r.events...)
}

func (r *recorder) withStats(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.states[peerID] {
		if st.Stats != nil {
			return true
		}
	}
	return false
}

func (f *fakeFactory) all() []*fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePC(nil), f.pcs...)
}

func (p *fakePC) restartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}
