package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"pixelstreamer/native/internal/api"
	"pixelstreamer/native/internal/config"
	"pixelstreamer/native/internal/logging"

	"github.com/spf13/cobra"
)

const longHelp = `pixelstream - receive a phone camera over WebRTC

The host asks the relay for a pairing code, waits for the phone to join with
that code, answers its offer and writes the received H264 stream to stdout.
Pipe it to ffplay or ffmpeg for playback or recording.

Examples:
  # Live playback
  pixelstream | ffplay -f h264 -

  # Record to MP4
  pixelstream | ffmpeg -f h264 -i - -c copy output.mp4

  # Local relay for development
  pixelstream relay --listen :8090

Configuration is read from the environment (and an optional .env file):
  PIXELSTREAM_RELAY_URL          relay base URL
  PIXELSTREAM_GENERATE_URL       code issuance endpoint override
  PIXELSTREAM_DELETE_URL         code deletion endpoint override
  PIXELSTREAM_OFFER_URL          offer lookup endpoint override
  PIXELSTREAM_ANSWER_URL         answer submission endpoint override
  PIXELSTREAM_STUN_URLS          comma separated STUN servers
  PIXELSTREAM_POLL_MAX_ATTEMPTS  offer lookups before giving up (30)
  PIXELSTREAM_POLL_BASE_DELAY    first backoff ceiling (1s)
  PIXELSTREAM_POLL_MAX_DELAY     backoff cap (30s)
  PIXELSTREAM_ANSWER_RETRIES     answer submission attempts (1)
  PIXELSTREAM_STATUS_ADDR        status feed listen address
  PIXELSTREAM_RECORD_DIR         directory for diagnostic recordings
  PIXELSTREAM_LOG_LEVEL          debug, info, warn, error
`

type globalFlags struct {
	relayURL string
	logLevel string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	stream := streamCmd(g)

	cmd := &cobra.Command{
		Use:           "pixelstream",
		Short:         "Receive a phone camera over WebRTC",
		Long:          longHelp,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          stream.RunE,
	}
	cmd.PersistentFlags().StringVar(&g.relayURL, "relay-url", "", "relay base URL (overrides PIXELSTREAM_RELAY_URL)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (overrides PIXELSTREAM_LOG_LEVEL)")
	cmd.Flags().AddFlagSet(stream.Flags())

	cmd.AddCommand(stream)
	cmd.AddCommand(codeCmd(g))
	cmd.AddCommand(relayCmd(g))
	return cmd
}

// loadConfig reads the environment and applies the global flags.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if g.relayURL != "" {
		cfg.Endpoints = api.EndpointsFromBase(g.relayURL)
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.LogLevel, os.Stderr)
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log := logging.Component("main")
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
		ossignal.Stop(sigCh)
	}()
	return ctx, cancel
}
