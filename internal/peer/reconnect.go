package peer

import (
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (m *Manager) onConnectionState(e *edge, pc PeerConnection, s webrtc.PeerConnectionState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc != pc || e.state == StateClosed {
		return
	}
	e.lastActivity = time.Now()

	switch s {
	case webrtc.PeerConnectionStateConnected:
		e.stopTimerLocked()
		e.state = StateConnected
		e.attempts = 0
		e.reconnecting = false
		e.terminal = false
		log.Info().Str("peer_id", e.peerID).Msg("Peer connected")
		m.notifyLocked(e)
	case webrtc.PeerConnectionStateDisconnected:
		if e.state == StateConnected {
			e.state = StateDisconnected
			log.Warn().Str("peer_id", e.peerID).Msg("Peer disconnected")
			m.notifyLocked(e)
		}
	case webrtc.PeerConnectionStateFailed:
		m.failLocked(e, "connection failed")
	}
}

// onICEState restarts ICE from the initiator side when the path fails.
func (m *Manager) onICEState(e *edge, pc PeerConnection, s webrtc.ICEConnectionState) {
	if s != webrtc.ICEConnectionStateFailed {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc != pc || !e.initiator || e.reconnecting || e.state == StateClosed || e.state == StateFailed {
		return
	}
	log.Info().Str("peer_id", e.peerID).Msg("ICE failed, restarting")
	if err := m.offerLocked(m.loopContext(), e, true); err != nil {
		log.Warn().Err(err).Str("peer_id", e.peerID).Msg("ICE restart failed")
	}
}

// failLocked schedules a rebuild of the edge, or gives up once the attempts
// are spent. The terminal notification fires once per failure run.
func (m *Manager) failLocked(e *edge, reason string) {
	if e.state == StateClosed || e.state == StateFailed {
		return
	}
	e.stopTimerLocked()

	if e.attempts >= m.cfg.MaxReconnectAttempts {
		e.state = StateFailed
		e.reconnecting = false
		e.closePCLocked()
		log.Error().
			Str("peer_id", e.peerID).
			Int("attempts", e.attempts).
			Str("reason", reason).
			Msg("Giving up on peer")
		if !e.terminal {
			e.terminal = true
			st := e.snapshotLocked()
			st.Err = ErrConnectionTerminallyFailed
			m.obs().OnConnectionStateChange(e.peerID, st)
		}
		return
	}

	delay := reconnectDelay(m.cfg.ReconnectDelay, e.attempts)
	e.attempts++
	e.state = StateReconnecting
	e.reconnecting = true
	log.Warn().
		Str("peer_id", e.peerID).
		Int("attempt", e.attempts).
		Dur("delay", delay).
		Str("reason", reason).
		Msg("Scheduling reconnect")
	m.notifyLocked(e)

	e.timer = time.AfterFunc(delay, func() { m.reconnect(e) })
}

func (m *Manager) reconnect(e *edge) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateReconnecting {
		return
	}
	e.timer = nil

	if err := m.openLocked(e); err != nil {
		log.Warn().Err(err).Str("peer_id", e.peerID).Msg("Reconnect could not open a connection")
		m.failLocked(e, "open failed")
		return
	}
	e.pending = nil
	e.state = StateNegotiating
	m.armNegotiationTimeoutLocked(e)
	m.notifyLocked(e)

	if e.initiator {
		if err := m.offerLocked(m.loopContext(), e, true); err != nil {
			log.Warn().Err(err).Str("peer_id", e.peerID).Msg("Reconnect offer failed")
			m.failLocked(e, "offer failed")
		}
	}
}

// armNegotiationTimeoutLocked counts an attempt that never connects as a
// failure.
func (m *Manager) armNegotiationTimeoutLocked(e *edge) {
	e.stopTimerLocked()
	pc := e.pc
	e.timer = time.AfterFunc(m.cfg.NegotiationTimeout, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.pc != pc || e.state != StateNegotiating {
			return
		}
		m.failLocked(e, "negotiation timed out")
	})
}
