package main

import (
	"os"

	"github.com/mossy-p/webrtc-studio/internal/logging"
	"github.com/mossy-p/webrtc-studio/internal/signalclient"
	"github.com/spf13/cobra"
)

var (
	flagServer   string
	flagToken    string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "peer",
	Short: "Join studio rooms from the terminal",
	Long: `peer is a headless participant for the studio signaling server. It joins
a room, negotiates a WebRTC connection with every other participant and
sends test audio and video tracks.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagLogLevel, "development")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", envOr("STUDIO_SERVER", "http://localhost:8080"), "signaling server URL")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("STUDIO_TOKEN"), "bearer token from `peer login`")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(joinCmd, roomCmd, loginCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newAPI() *signalclient.API {
	return signalclient.NewAPI(flagServer, flagToken)
}
