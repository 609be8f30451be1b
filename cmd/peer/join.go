package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mossy-p/webrtc-studio/internal/media"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/mossy-p/webrtc-studio/internal/peer"
	"github.com/mossy-p/webrtc-studio/internal/signalclient"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagJoinName      string
	flagJoinRole      string
	flagJoinAccount   string
	flagJoinTransport string
	flagJoinNoAudio   bool
	flagJoinNoVideo   bool
	flagJoinSTUN      []string
	flagJoinRelay     bool
	flagJoinLoopback  bool
	flagJoinPLI       time.Duration
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|code>",
	Aliases: []string{"j"},
	Short:   "Join a room and connect to everyone in it",
	Long: `Join a room as a headless participant. Audio is a silent Opus track and
video is an idle VP8 track. While joined, type a command and press enter:

  mute | unmute        toggle audio
  video on|off         toggle video
  status               show every connection
  quit                 leave the room

Examples:
  peer join ABCD23 --name Alice
  peer join standup --role watcher --transport ws`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	f := joinCmd.Flags()
	f.StringVarP(&flagJoinName, "name", "n", "Guest", "display name")
	f.StringVarP(&flagJoinRole, "role", "r", "guest", "requested role (host, guest, watcher)")
	f.StringVar(&flagJoinAccount, "account", "", "account id when no token is given (random by default)")
	f.StringVarP(&flagJoinTransport, "transport", "t", "http", "signaling transport (http, ws)")
	f.BoolVar(&flagJoinNoAudio, "no-audio", false, "do not send audio")
	f.BoolVar(&flagJoinNoVideo, "no-video", false, "do not send video")
	f.StringSliceVar(&flagJoinSTUN, "stun", nil, "STUN server URLs (public Google servers by default)")
	f.BoolVar(&flagJoinRelay, "relay", false, "only use TURN relays")
	f.BoolVar(&flagJoinLoopback, "loopback", false, "gather loopback candidates, for peers on the same host")
	f.DurationVar(&flagJoinPLI, "pli-interval", 3*time.Second, "request keyframes from senders this often (0 disables)")
}

func newSignaler(api *signalclient.API, room, account string) (peer.Signaler, error) {
	switch strings.ToLower(flagJoinTransport) {
	case "http", "poll":
		return signalclient.NewHTTPClient(api, room, account), nil
	case "ws", "websocket":
		return signalclient.NewWSClient(api, room, account), nil
	}
	return nil, errors.Errorf("unknown transport %q", flagJoinTransport)
}

func runJoin(ctx context.Context, room string, in io.Reader, out io.Writer) error {
	account := flagJoinAccount
	if account == "" {
		account = uuid.NewString()
	}
	signaler, err := newSignaler(newAPI(), room, account)
	if err != nil {
		return err
	}

	opts := peer.FactoryOptions{
		RelayOnly:       flagJoinRelay,
		IncludeLoopback: flagJoinLoopback,
		PLIInterval:     flagJoinPLI,
	}
	if len(flagJoinSTUN) > 0 {
		opts.ICEServers = []webrtc.ICEServer{{URLs: flagJoinSTUN}}
	}
	factory, err := peer.NewPionFactory(opts)
	if err != nil {
		return err
	}

	m := peer.NewManager(signaler, factory, peer.Config{
		DisplayName: flagJoinName,
		Role:        models.ParseRole(flagJoinRole),
	})
	m.SetObserver(&logObserver{})

	constraints := media.DefaultConstraints()
	constraints.Audio = !flagJoinNoAudio
	constraints.Video = !flagJoinNoVideo
	source := media.StaticSource{HasAudio: true, HasVideo: true}
	stream, err := m.InitializeLocalStream(ctx, source, constraints)
	if err != nil {
		return err
	}

	if err := m.Start(ctx); err != nil {
		m.Cleanup(context.Background())
		return err
	}
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Cleanup(leaveCtx)
	}()

	fmt.Fprintf(out, "Joined room %s as %s (%s)\n", m.RoomID(), flagJoinName, m.Role())

	go pumpSilence(ctx, stream)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Leaving room...")
			return nil
		case line, ok := <-lines:
			if !ok {
				// Stdin closed: stay until interrupted.
				lines = nil
				continue
			}
			if quit := handleCommand(ctx, m, line, out); quit {
				return nil
			}
		}
	}
}

func handleCommand(ctx context.Context, m *peer.Manager, line string, out io.Writer) (quit bool) {
	var err error
	switch line {
	case "":
	case "mute":
		err = m.SetAudioEnabled(ctx, false)
	case "unmute":
		err = m.SetAudioEnabled(ctx, true)
	case "video off":
		err = m.SetVideoEnabled(ctx, false)
	case "video on":
		err = m.SetVideoEnabled(ctx, true)
	case "status":
		renderEdges(out, m.Edges())
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(out, "Unknown command %q\n", line)
	}
	if err != nil {
		log.Error().Err(err).Str("command", line).Msg("Command failed")
	}
	return false
}

// pumpSilence feeds Opus silence frames to the audio tracks so remote
// receivers see RTP flowing.
func pumpSilence(ctx context.Context, stream *media.Stream) {
	var tracks []*media.SampleTrack
	for _, t := range stream.AudioTracks() {
		if st, ok := t.(*media.SampleTrack); ok {
			tracks = append(tracks, st)
		}
	}
	if len(tracks) == 0 {
		return
	}

	const frame = 20 * time.Millisecond
	silence := []byte{0xf8, 0xff, 0xfe}
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range tracks {
				if err := t.WriteSample(pionmedia.Sample{Data: silence, Duration: frame}); err != nil {
					return
				}
			}
		}
	}
}

type logObserver struct{}

func (logObserver) OnTrack(track *webrtc.TrackRemote, peerID, displayName string) {
	log.Info().
		Str("peer_id", peerID).
		Str("name", displayName).
		Str("kind", track.Kind().String()).
		Msg("Receiving track")
	go func() {
		var packets int
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				log.Debug().Str("peer_id", peerID).Int("packets", packets).Msg("Track ended")
				return
			}
			packets++
		}
	}()
}

func (logObserver) OnConnectionStateChange(peerID string, st peer.ConnectionState) {
	if st.Stats != nil {
		log.Debug().
			Str("peer_id", peerID).
			Uint64("bytes_in", st.Stats.BytesReceived).
			Uint64("bytes_out", st.Stats.BytesSent).
			Int64("lost", st.Stats.PacketsLost).
			Float64("rtt", st.Stats.RoundTripTime).
			Msg("Connection stats")
		return
	}

	ev := log.Info()
	if st.Err != nil {
		ev = log.Error().Err(st.Err)
	}
	ev = ev.Str("peer_id", peerID).Str("state", string(st.State))
	if st.Reconnecting {
		ev = ev.Int("attempt", st.Attempts)
	}
	ev.Msg("Connection state")
}

func (logObserver) OnPeerEvent(peerID string, event models.SignalType) {
	log.Info().Str("peer_id", peerID).Str("event", string(event)).Msg("Peer event")
}

func (logObserver) OnSignalingError(err error) {
	log.Warn().Err(err).Msg("Signaling error")
}

func renderEdges(w io.Writer, edges map[string]peer.ConnectionState) {
	ids := make([]string, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Peer", "State", "Reconnect attempts"})
	for _, id := range ids {
		st := edges[id]
		t.AppendRow(table.Row{id, st.State, st.Attempts})
	}
	if len(ids) == 0 {
		t.AppendRow(table.Row{"-", "alone in the room", ""})
	}
	t.Render()
}

var _ peer.Observer = logObserver{}
