package peer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-studio/internal/media"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrConnectionTerminallyFailed is reported once per edge when reconnects
	// are exhausted.
	ErrConnectionTerminallyFailed = errors.New("connection terminally failed")
	// ErrNegotiation wraps malformed or unusable session descriptions.
	ErrNegotiation = errors.New("negotiation failed")
	ErrClosed      = errors.New("manager closed")
)

// earlyCandidateTTL bounds how long candidates for a peer without an edge
// are kept. It matches the server's candidate lifetime.
const earlyCandidateTTL = 30 * time.Second

type earlyCandidate struct {
	init webrtc.ICECandidateInit
	at   time.Time
}

// Config tunes the manager. Zero fields take DefaultConfig values.
type Config struct {
	DisplayName          string
	Role                 models.Role
	PollInterval         time.Duration
	MaxPollInterval      time.Duration
	StatsInterval        time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	NegotiationTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		DisplayName:          "Guest",
		Role:                 models.RoleGuest,
		PollInterval:         time.Second,
		MaxPollInterval:      30 * time.Second,
		StatsInterval:        2 * time.Second,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
		NegotiationTimeout:   15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DisplayName == "" {
		c.DisplayName = d.DisplayName
	}
	if c.Role == "" {
		c.Role = d.Role
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = d.MaxPollInterval
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = d.StatsInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = d.NegotiationTimeout
	}
	return c
}

// Manager keeps one peer connection per remote participant of a room and
// drives their negotiation from signaling messages.
type Manager struct {
	cfg      Config
	signaler Signaler
	factory  Factory

	mu       sync.Mutex
	self     string
	role     models.Role
	roomID   string
	local    *media.Stream
	edges    map[string]*edge
	early    map[string][]earlyCandidate
	now      func() time.Time
	observer Observer
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	closed   bool

	wg sync.WaitGroup
}

func NewManager(signaler Signaler, factory Factory, cfg Config) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		signaler: signaler,
		factory:  factory,
		edges:    make(map[string]*edge),
		early:    make(map[string][]earlyCandidate),
		now:      time.Now,
		observer: NopObserver{},
		ctx:      context.Background(),
	}
}

// SetObserver replaces the observer. Callbacks run while the affected edge is
// locked, so they must not call back into the manager.
func (m *Manager) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	m.mu.Lock()
	m.observer = o
	m.mu.Unlock()
}

func (m *Manager) obs() Observer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observer
}

func (m *Manager) loopContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Self is this session's participant id, empty before Start.
func (m *Manager) Self() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

func (m *Manager) Role() models.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

func (m *Manager) RoomID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

// InitializeLocalStream captures local media through src. It falls back to
// fewer kinds rather than failing.
func (m *Manager) InitializeLocalStream(ctx context.Context, src media.Source, c media.Constraints) (*media.Stream, error) {
	stream, err := media.Acquire(ctx, src, c)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.local = stream
	m.mu.Unlock()
	return stream, nil
}

func (m *Manager) LocalStream() *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// Start joins the room, opens edges to the participants already present and
// starts the receive and stats loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.ctx, m.cancel = loopCtx, cancel
	m.mu.Unlock()

	if err := m.join(ctx); err != nil {
		cancel()
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.pollLoop(loopCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.statsLoop(loopCtx)
	}()
	return nil
}

func (m *Manager) join(ctx context.Context) error {
	res, err := m.signaler.Join(ctx, m.cfg.DisplayName, m.cfg.Role)
	if err != nil {
		return errors.Wrap(err, "join room")
	}

	m.mu.Lock()
	m.self, m.role, m.roomID = res.ParticipantID, res.Role, res.RoomID
	m.mu.Unlock()

	log.Info().
		Str("room_id", res.RoomID).
		Str("participant_id", res.ParticipantID).
		Str("role", string(res.Role)).
		Int("others", len(res.Participants)).
		Msg("Joined room")

	// Those already present offer to us.
	for _, p := range res.Participants {
		if p.ID == res.ParticipantID || !p.Active() {
			continue
		}
		if err := m.OnRemoteParticipantDiscovered(ctx, p.ID, p.DisplayName, false); err != nil {
			log.Warn().Err(err).Str("peer_id", p.ID).Msg("Failed to open edge")
		}
	}
	return nil
}

// OnRemoteParticipantDiscovered opens an edge to peerID. The initiator sends
// the first offer; the other side waits for it.
func (m *Manager) OnRemoteParticipantDiscovered(ctx context.Context, peerID, displayName string, initiator bool) error {
	m.mu.Lock()
	closed, self := m.closed, m.self
	existing := m.edges[peerID]
	m.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if peerID == "" || peerID == self {
		return nil
	}
	if existing != nil {
		existing.mu.Lock()
		live := existing.state != StateClosed && existing.state != StateFailed
		existing.mu.Unlock()
		if live {
			return nil
		}
	}

	// Lock order is edge before manager. The new edge is locked before it is
	// published so nobody sees it half built.
	e := newEdge(peerID, displayName, initiator)
	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.edges[peerID] != existing {
		m.mu.Unlock()
		return nil
	}
	m.edges[peerID] = e
	early := m.early[peerID]
	delete(m.early, peerID)
	m.mu.Unlock()

	for _, c := range early {
		e.pending = append(e.pending, c.init)
	}
	if err := m.openLocked(e); err != nil {
		m.teardownLocked(e)
		return err
	}
	m.notifyLocked(e)

	if initiator {
		if err := m.offerLocked(ctx, e, false); err != nil {
			m.teardownLocked(e)
			return err
		}
	}
	return nil
}

// ensureEdge returns the edge for peerID, opening a non-initiator one if
// none exists. nil means the manager is closed.
func (m *Manager) ensureEdge(peerID, displayName string) *edge {
	m.mu.Lock()
	e, ok := m.edges[peerID]
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil
	}
	if ok {
		return e
	}
	if err := m.OnRemoteParticipantDiscovered(m.loopContext(), peerID, displayName, false); err != nil {
		log.Warn().Err(err).Str("peer_id", peerID).Msg("Failed to open edge")
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edges[peerID]
}

// openLocked replaces the edge's peer connection with a fresh one carrying
// the local tracks.
func (m *Manager) openLocked(e *edge) error {
	e.closePCLocked()
	e.lastRemoteOffer = ""

	pc, err := m.factory()
	if err != nil {
		return err
	}
	e.pc = pc

	peerID := e.peerID
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.sendCandidate(peerID, c.ToJSON())
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		e.events.push(func() { m.onICEState(e, pc, s) })
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.events.push(func() { m.onConnectionState(e, pc, s) })
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.onTrack(e, pc, track)
	})

	m.mu.Lock()
	local, role := m.local, m.role
	m.mu.Unlock()

	var hasAudio, hasVideo bool
	if local != nil && role != models.RoleWatcher {
		for _, t := range local.Tracks() {
			if t.Stopped() {
				continue
			}
			sender, err := pc.AddTrack(t.Local())
			if err != nil {
				return errors.Wrapf(err, "add %s track", t.Kind())
			}
			if sender != nil {
				go drainRTCP(sender)
			}
			hasAudio = hasAudio || t.Kind() == media.KindAudio
			hasVideo = hasVideo || t.Kind() == media.KindVideo
		}
	}

	// The offer decides which m-lines exist, so ask to receive what we do
	// not send.
	if e.initiator {
		recv := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
		if !hasAudio {
			if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, recv); err != nil {
				return errors.Wrap(err, "add audio transceiver")
			}
		}
		if !hasVideo {
			if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, recv); err != nil {
				return errors.Wrap(err, "add video transceiver")
			}
		}
	}
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (m *Manager) offerLocked(ctx context.Context, e *edge, restart bool) error {
	if e.pc == nil {
		return errors.Wrap(ErrNegotiation, "no connection")
	}
	offer, err := e.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: restart})
	if err != nil {
		return errors.Wrap(err, "create offer")
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return errors.Wrap(err, "set local description")
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	if e.state == StateNew {
		e.state = StateNegotiating
		m.notifyLocked(e)
	}

	to := e.peerID
	if err := m.signaler.Send(ctx, &to, models.SignalTypeOffer, models.SignalData{Offer: raw}); err != nil {
		return errors.Wrap(err, "send offer")
	}
	log.Debug().Str("peer_id", e.peerID).Bool("ice_restart", restart).Msg("Offer sent")
	return nil
}

func (m *Manager) sendCandidate(peerID string, c webrtc.ICECandidateInit) {
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	to := peerID
	if err := m.signaler.Send(m.loopContext(), &to, models.SignalTypeCandidate, models.SignalData{Candidate: raw}); err != nil {
		log.Debug().Err(err).Str("peer_id", peerID).Msg("Failed to send ICE candidate")
	}
}

// HandleOffer applies a remote offer and answers it.
func (m *Manager) HandleOffer(ctx context.Context, from, displayName string, raw json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil || desc.Type != webrtc.SDPTypeOffer {
		return errors.Wrapf(ErrNegotiation, "malformed offer from %s", from)
	}

	e := m.ensureEdge(from, displayName)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return nil
	}
	if e.pc == nil {
		// The peer came back after we gave up on it.
		e.attempts, e.terminal, e.reconnecting = 0, false, false
		e.state = StateNew
		if err := m.openLocked(e); err != nil {
			m.teardownLocked(e)
			return err
		}
	}
	if desc.SDP == e.lastRemoteOffer {
		log.Debug().Str("peer_id", from).Msg("Duplicate offer ignored")
		return nil
	}

	if e.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		// Both sides offered. The higher id keeps its offer; the other rolls back.
		if m.Self() > from {
			log.Debug().Str("peer_id", from).Msg("Offer collision, keeping ours")
			return nil
		}
		if err := e.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			log.Warn().Err(err).Str("peer_id", from).Msg("Rollback failed")
		}
	}

	err := m.answerLocked(ctx, e, desc)
	if err != nil && e.state != StateNew {
		// The old connection cannot take this offer. Start over on a new one.
		log.Debug().Err(err).Str("peer_id", from).Msg("Retrying offer on a fresh connection")
		if err = m.openLocked(e); err == nil {
			err = m.answerLocked(ctx, e, desc)
		}
	}
	if err != nil {
		m.teardownLocked(e)
		return err
	}
	return nil
}

func (m *Manager) answerLocked(ctx context.Context, e *edge, offer webrtc.SessionDescription) error {
	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return errors.Wrap(err, "set remote description")
	}
	e.lastRemoteOffer = offer.SDP
	e.lastActivity = time.Now()
	e.flushLocked()

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return errors.Wrap(err, "create answer")
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return errors.Wrap(err, "set local description")
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	switch e.state {
	case StateNew:
		e.state = StateNegotiating
		m.notifyLocked(e)
	case StateReconnecting:
		// The initiator got there first; skip our own pending rebuild.
		e.state = StateNegotiating
		m.armNegotiationTimeoutLocked(e)
		m.notifyLocked(e)
	}

	to := e.peerID
	if err := m.signaler.Send(ctx, &to, models.SignalTypeAnswer, models.SignalData{Answer: raw}); err != nil {
		return errors.Wrap(err, "send answer")
	}
	log.Debug().Str("peer_id", e.peerID).Msg("Answer sent")
	return nil
}

// HandleAnswer applies a remote answer. Answers that do not match an
// outstanding local offer are stale and dropped.
func (m *Manager) HandleAnswer(_ context.Context, from string, raw json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil || desc.Type != webrtc.SDPTypeAnswer {
		return errors.Wrapf(ErrNegotiation, "malformed answer from %s", from)
	}

	m.mu.Lock()
	e, ok := m.edges[from]
	m.mu.Unlock()
	if !ok {
		log.Debug().Str("peer_id", from).Msg("Answer for unknown peer dropped")
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc == nil || e.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		log.Debug().Str("peer_id", from).Msg("Stale answer dropped")
		return nil
	}
	if err := e.pc.SetRemoteDescription(desc); err != nil {
		m.teardownLocked(e)
		return errors.Wrap(err, "set remote description")
	}
	e.attempts = 0
	e.lastActivity = time.Now()
	e.flushLocked()
	return nil
}

// HandleCandidate adds a remote ICE candidate, holding it back until the
// remote description is known.
func (m *Manager) HandleCandidate(_ context.Context, from string, raw json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return errors.Wrapf(ErrNegotiation, "malformed candidate from %s", from)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	e, ok := m.edges[from]
	if !ok {
		now := m.now()
		m.expireEarlyLocked(now)
		m.early[from] = append(m.early[from], earlyCandidate{init: c, at: now})
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc == nil || e.pc.RemoteDescription() == nil {
		e.pending = append(e.pending, c)
		return nil
	}
	if err := e.pc.AddICECandidate(c); err != nil {
		log.Warn().Err(err).Str("peer_id", from).Msg("Dropping ICE candidate")
	}
	return nil
}

// expireEarlyLocked drops held candidates of peers that never got an edge
// within earlyCandidateTTL. Caller holds m.mu.
func (m *Manager) expireEarlyLocked(now time.Time) {
	for peerID, held := range m.early {
		keep := held[:0]
		for _, c := range held {
			if now.Sub(c.at) < earlyCandidateTTL {
				keep = append(keep, c)
			}
		}
		if dropped := len(held) - len(keep); dropped > 0 {
			log.Warn().Str("peer_id", peerID).Int("dropped", dropped).Msg("Expired ICE candidates for unknown peer")
		}
		if len(keep) == 0 {
			delete(m.early, peerID)
		} else {
			m.early[peerID] = keep
		}
	}
}

// HandleLeave closes the edge to a participant that left.
func (m *Manager) HandleLeave(from string) {
	m.Close(from)
}

// HandleError surfaces an ERROR message.
func (m *Manager) HandleError(msg *models.SignalMessage) {
	err := models.ErrorFromCode(msg.Data.Error)
	if err == nil {
		err = errors.New(msg.Data.Error)
	}
	if msg.FromID != "" {
		err = errors.Wrapf(err, "from %s", msg.FromID)
	}
	m.obs().OnSignalingError(err)
}

// HandleControl reports a remote mute/video change or the host leaving.
func (m *Manager) HandleControl(from string, typ models.SignalType) {
	m.obs().OnPeerEvent(from, typ)
}

// Dispatch routes one received message.
func (m *Manager) Dispatch(ctx context.Context, msg *models.SignalMessage) {
	if msg.FromID != "" && msg.FromID == m.Self() {
		return
	}

	var err error
	switch msg.Type {
	case models.SignalTypeJoin:
		err = m.OnRemoteParticipantDiscovered(ctx, msg.FromID, msg.Data.DisplayName, true)
	case models.SignalTypeLeave:
		m.HandleLeave(msg.FromID)
	case models.SignalTypeOffer:
		err = m.HandleOffer(ctx, msg.FromID, msg.Data.DisplayName, msg.Data.Offer)
	case models.SignalTypeAnswer:
		err = m.HandleAnswer(ctx, msg.FromID, msg.Data.Answer)
	case models.SignalTypeCandidate:
		err = m.HandleCandidate(ctx, msg.FromID, msg.Data.Candidate)
	case models.SignalTypeMute, models.SignalTypeUnmute,
		models.SignalTypeVideoOn, models.SignalTypeVideoOff,
		models.SignalTypeHostLeft:
		m.HandleControl(msg.FromID, msg.Type)
	case models.SignalTypeError:
		m.HandleError(msg)
	default:
		log.Debug().Str("type", string(msg.Type)).Msg("Ignoring unknown message type")
	}
	if err != nil && !errors.Is(err, ErrClosed) {
		log.Warn().Err(err).
			Str("type", string(msg.Type)).
			Str("peer_id", msg.FromID).
			Msg("Signal handling failed")
	}
}

func (m *Manager) onTrack(e *edge, pc PeerConnection, track *webrtc.TrackRemote) {
	e.mu.Lock()
	current := e.pc == pc
	name := e.displayName
	e.mu.Unlock()
	if !current {
		return
	}

	log.Info().
		Str("peer_id", e.peerID).
		Str("kind", track.Kind().String()).
		Str("codec", track.Codec().MimeType).
		Msg("Remote track")

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		// Ask for a keyframe so the first frames decode.
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := pc.WriteRTCP(pli); err != nil {
			log.Debug().Err(err).Str("peer_id", e.peerID).Msg("PLI failed")
		}
	}
	m.obs().OnTrack(track, e.peerID, name)
}

func (m *Manager) notifyLocked(e *edge) {
	m.obs().OnConnectionStateChange(e.peerID, e.snapshotLocked())
}

// SetAudioEnabled toggles local audio and tells the room.
func (m *Manager) SetAudioEnabled(ctx context.Context, enabled bool) error {
	typ := models.SignalTypeUnmute
	if !enabled {
		typ = models.SignalTypeMute
	}
	return m.toggle(ctx, media.KindAudio, enabled, typ)
}

// SetVideoEnabled toggles local video and tells the room.
func (m *Manager) SetVideoEnabled(ctx context.Context, enabled bool) error {
	typ := models.SignalTypeVideoOn
	if !enabled {
		typ = models.SignalTypeVideoOff
	}
	return m.toggle(ctx, media.KindVideo, enabled, typ)
}

func (m *Manager) toggle(ctx context.Context, kind media.Kind, enabled bool, typ models.SignalType) error {
	m.mu.Lock()
	local, started, closed := m.local, m.started, m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if local != nil {
		local.SetEnabled(kind, enabled)
	}
	if !started {
		return nil
	}
	return m.signaler.Send(ctx, nil, typ, models.SignalData{})
}

// Edges reports the state of every edge.
func (m *Manager) Edges() map[string]ConnectionState {
	m.mu.Lock()
	edges := make([]*edge, 0, len(m.edges))
	for _, e := range m.edges {
		edges = append(edges, e)
	}
	m.mu.Unlock()

	out := make(map[string]ConnectionState, len(edges))
	for _, e := range edges {
		e.mu.Lock()
		out[e.peerID] = e.snapshotLocked()
		e.mu.Unlock()
	}
	return out
}

// Close tears down the edge to peerID. Closing an unknown peer is a no-op.
func (m *Manager) Close(peerID string) {
	m.mu.Lock()
	e, ok := m.edges[peerID]
	delete(m.edges, peerID)
	delete(m.early, peerID)
	m.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	m.teardownLocked(e)
	e.mu.Unlock()
}

func (m *Manager) teardownLocked(e *edge) {
	if e.state == StateClosed {
		return
	}
	e.stopTimerLocked()
	e.closePCLocked()
	e.pending = nil
	e.reconnecting = false
	e.state = StateClosed
	m.notifyLocked(e)

	m.mu.Lock()
	if m.edges[e.peerID] == e {
		delete(m.edges, e.peerID)
	}
	m.mu.Unlock()
	log.Debug().Str("peer_id", e.peerID).Msg("Edge closed")
}

// Cleanup stops the loops and timers, closes every edge, stops local tracks
// and leaves the room. Calling it again does nothing.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel, started, local := m.cancel, m.started, m.local
	edges := make([]*edge, 0, len(m.edges))
	for _, e := range m.edges {
		edges = append(edges, e)
	}
	m.edges = make(map[string]*edge)
	m.early = make(map[string][]earlyCandidate)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	for _, e := range edges {
		e.mu.Lock()
		m.teardownLocked(e)
		e.mu.Unlock()
	}
	if local != nil {
		local.Stop()
	}
	if started {
		if err := m.signaler.Leave(ctx); err != nil {
			log.Debug().Err(err).Msg("Leave failed")
		}
	}
	log.Info().Int("edges", len(edges)).Msg("Peer manager cleaned up")
}
