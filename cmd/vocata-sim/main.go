// Command vocata-sim simulates a caller against a running vocata server: it
// speaks the telephony media-stream protocol over WebSocket, plays an audio
// file or a live PCM stream as the caller, and records what the agent says
// back.
//
//	vocata-sim file greeting-test.wav --speed 2
//	arecord -f S16_LE -r 16000 -c 1 -t raw | vocata-sim live
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vocata-ai/vocata/internal/sim"
	"github.com/vocata-ai/vocata/internal/transcode"
	"github.com/vocata-ai/vocata/pkg/mulaw"
)

var (
	flagURL    string
	flagCallID string
	flagSpeed  float64
	flagRate   int
	flagLinger time.Duration
	flagRecord string
	flagFFmpeg string
)

func main() {
	root := &cobra.Command{
		Use:           "vocata-sim",
		Short:         "Simulate a caller against a vocata server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagURL, "url", "ws://localhost:8080/streams", "stream endpoint of the server")
	root.PersistentFlags().StringVar(&flagCallID, "call-id", "", "call id for the start event (generated when empty)")
	root.PersistentFlags().DurationVar(&flagLinger, "linger", 5*time.Second, "how long to stay on the line after the caller audio ends")
	root.PersistentFlags().StringVar(&flagRecord, "record", "", "write the agent's reply audio (raw 8 kHz mu-law) to this file")
	root.PersistentFlags().StringVar(&flagFFmpeg, "ffmpeg", "", "ffmpeg binary for decoding input files (default from PATH)")

	fileCmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Play an audio file as the caller",
		Args:  cobra.ExactArgs(1),
		RunE:  runFile,
	}
	fileCmd.Flags().Float64Var(&flagSpeed, "speed", 1.0, "playback multiplier (1.0 is real time)")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "Stream raw little-endian int16 PCM from stdin as the caller",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	liveCmd.Flags().IntVar(&flagRate, "rate", 16000, "stdin PCM sample rate in Hz")

	root.AddCommand(fileCmd, liveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vocata-sim: %v\n", err)
		os.Exit(1)
	}
}

func newClient() *sim.Client {
	return sim.New(sim.Config{
		URL:        flagURL,
		CallID:     flagCallID,
		Speed:      flagSpeed,
		InputRate:  flagRate,
		Linger:     flagLinger,
		Transcoder: transcode.New(transcode.Config{FFmpegPath: flagFFmpeg}),
		Logger:     slog.Default(),
	})
}

func runFile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := newClient().PlayFile(ctx, args[0])
	if err != nil {
		return err
	}
	return report(res)
}

func runLive(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "streaming stdin; press Ctrl+C to hang up")
	res, err := newClient().Live(ctx, os.Stdin)
	if err != nil {
		return err
	}
	return report(res)
}

func report(res *sim.Result) error {
	fmt.Printf("call %s finished in %s\n", res.CallID, res.Duration.Round(time.Millisecond))
	fmt.Printf("  caller audio : %d frames (%.1f s)\n",
		res.SentFrames, float64(res.SentFrames)*mulaw.FrameMs/1000)
	fmt.Printf("  agent audio  : %d bytes (%.1f s), %d replies\n",
		len(res.AgentAudio), float64(len(res.AgentAudio))/float64(mulaw.SampleRate), len(res.Marks))

	if flagRecord != "" && len(res.AgentAudio) > 0 {
		if err := os.WriteFile(flagRecord, res.AgentAudio, 0o644); err != nil {
			return fmt.Errorf("write recording: %w", err)
		}
		fmt.Printf("  recording    : %s (play with: ffplay -f mulaw -ar 8000 %s)\n", flagRecord, flagRecord)
	}
	return nil
}
