package peer

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// edge is the connection to one remote participant. Everything below mu is
// guarded by it; negotiation steps on one edge never interleave.
type edge struct {
	peerID      string
	displayName string
	initiator   bool

	mu              sync.Mutex
	pc              PeerConnection
	state           State
	pending         []webrtc.ICECandidateInit
	lastRemoteOffer string
	attempts        int
	reconnecting    bool
	terminal        bool
	lastActivity    time.Time
	timer           *time.Timer

	// events applies pion state callbacks in the order pion raised them.
	events eventQueue
}

// eventQueue runs functions one at a time, in push order, on a goroutine of
// its own. pion callbacks push here so they never take the edge lock on
// pion's goroutine.
type eventQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.run()
}

func (q *eventQueue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}

func newEdge(peerID, displayName string, initiator bool) *edge {
	return &edge{
		peerID:       peerID,
		displayName:  displayName,
		initiator:    initiator,
		state:        StateNew,
		lastActivity: time.Now(),
	}
}

func (e *edge) snapshotLocked() ConnectionState {
	return ConnectionState{State: e.state, Reconnecting: e.reconnecting, Attempts: e.attempts}
}

func (e *edge) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *edge) closePCLocked() {
	if e.pc == nil {
		return
	}
	if err := e.pc.Close(); err != nil {
		log.Debug().Err(err).Str("peer_id", e.peerID).Msg("Closing peer connection")
	}
	e.pc = nil
}

// flushLocked applies candidates that arrived before the remote description.
func (e *edge) flushLocked() {
	if e.pc == nil || e.pc.RemoteDescription() == nil {
		return
	}
	for _, c := range e.pending {
		if err := e.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("peer_id", e.peerID).Msg("Dropping buffered ICE candidate")
		}
	}
	e.pending = nil
}
