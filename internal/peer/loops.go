package peer

import (
	"context"
	"time"

	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// pollLoop receives and dispatches messages until ctx is done. A non-empty
// batch is followed by an immediate poll; failures back off.
func (m *Manager) pollLoop(ctx context.Context) {
	backoff := NewBackoff(m.cfg.PollInterval, m.cfg.MaxPollInterval)

	for {
		wait := backoff.Interval()

		msgs, err := m.signaler.Receive(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err == nil:
			backoff.Success()
			for i := range msgs {
				m.Dispatch(ctx, &msgs[i])
			}
			if len(msgs) > 0 {
				continue
			}
			wait = backoff.Interval()
		case errors.Is(err, models.ErrRoomNotFound):
			log.Error().Err(err).Msg("Room is gone, stopping")
			m.obs().OnSignalingError(err)
			return
		case errors.Is(err, models.ErrParticipantNotFound):
			log.Warn().Msg("Session expired, rejoining")
			if err := m.rejoin(ctx); err != nil {
				log.Error().Err(err).Msg("Rejoin failed")
				m.obs().OnSignalingError(err)
				wait = backoff.Failure()
			}
		default:
			wait = backoff.Failure()
			log.Warn().Err(err).Dur("retry_in", wait).Msg("Poll failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// rejoin replaces an expired session. Edges addressed to the old id are
// useless, so they are dropped and rebuilt from the new membership.
func (m *Manager) rejoin(ctx context.Context) error {
	m.mu.Lock()
	peers := make([]string, 0, len(m.edges))
	for id := range m.edges {
		peers = append(peers, id)
	}
	m.mu.Unlock()

	for _, id := range peers {
		m.Close(id)
	}
	return m.join(ctx)
}

func (m *Manager) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reportStats()
		}
	}
}

func (m *Manager) reportStats() {
	m.mu.Lock()
	edges := make([]*edge, 0, len(m.edges))
	for _, e := range m.edges {
		edges = append(edges, e)
	}
	m.mu.Unlock()

	for _, e := range edges {
		e.mu.Lock()
		if e.pc != nil && (e.state == StateConnected || e.state == StateDisconnected) {
			st := e.snapshotLocked()
			stats := collectStats(e.pc.GetStats())
			st.Stats = &stats
			m.obs().OnConnectionStateChange(e.peerID, st)
		}
		e.mu.Unlock()
	}
}

func collectStats(report webrtc.StatsReport) Stats {
	var s Stats
	for _, v := range report {
		switch st := v.(type) {
		case webrtc.InboundRTPStreamStats:
			s.BytesReceived += st.BytesReceived
			s.PacketsLost += int64(st.PacketsLost)
		case webrtc.OutboundRTPStreamStats:
			s.BytesSent += st.BytesSent
		case webrtc.ICECandidatePairStats:
			if st.Nominated && st.State == webrtc.StatsICECandidatePairStateSucceeded {
				s.RoundTripTime = st.CurrentRoundTripTime
			}
		}
	}
	return s
}
