package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"pixelstreamer/native/internal/api"
	"pixelstreamer/native/internal/config"
	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/ingest"
	"pixelstreamer/native/internal/logging"
	"pixelstreamer/native/internal/poller"
	"pixelstreamer/native/internal/render"
	"pixelstreamer/native/internal/session"
	"pixelstreamer/native/internal/status"
	"pixelstreamer/native/internal/streamer"
	"pixelstreamer/native/internal/webrtc"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func streamCmd(g *globalFlags) *cobra.Command {
	var (
		statusAddr string
		recordDir  string
		noAuto     bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Issue a pairing code and stream the paired camera to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if statusAddr != "" {
				cfg.StatusAddr = statusAddr
			}
			if recordDir != "" {
				cfg.RecordDir = recordDir
			}

			ctx, cancel := signalContext()
			defer cancel()
			return runStream(ctx, cfg, !noAuto)
		},
	}
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "status feed listen address (overrides PIXELSTREAM_STATUS_ADDR)")
	cmd.Flags().StringVar(&recordDir, "record-dir", "", "write diagnostic track recordings to this directory")
	cmd.Flags().BoolVar(&noAuto, "no-auto", false, "wait for a generate command instead of issuing a code at start")
	return cmd
}

func runStream(ctx context.Context, cfg *config.Config, auto bool) error {
	log := logging.Component("main")

	relay := api.NewClient(cfg.Endpoints, nil)
	hub := status.NewHub()

	peerCfg := webrtc.Config{ICEServers: cfg.STUNURLs}
	var recorder *render.Recorder
	if cfg.RecordDir != "" {
		var err error
		recorder, err = render.NewRecorder(cfg.RecordDir)
		if err != nil {
			return err
		}
		defer recorder.Close()
		peerCfg.Taps = func(kind domain.MediaKind, mime string) webrtc.PacketTap {
			if rec := recorder.Open(kind, mime); rec != nil {
				return rec
			}
			return nil
		}
	}

	factory, err := webrtc.NewFactory(peerCfg)
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}

	pipeline := ingest.New(render.NewRouter(render.NewAnnexBSink(os.Stdout)), 0)
	s := streamer.New(streamer.Deps{
		Relay:    relay,
		Peers:    factory,
		Observer: hub,
		Pipeline: pipeline,
	}, cfg.Poll, streamer.WithSessionOptions(
		session.WithAnswerRetry(cfg.AnswerRetries, poller.Backoff{Base: cfg.Poll.BaseDelay, Max: cfg.Poll.MaxDelay}),
	))

	hub.Subscribe("cli", func(ev status.Event) {
		switch ev.Type {
		case status.EventCodeIssued:
			fmt.Fprintf(os.Stderr, "\n  Pairing code: %s\n\n", ev.Code)
		case status.EventCodeFailed:
			fmt.Fprintf(os.Stderr, "\n  Pairing code: %s (%s)\n\n", domain.GenerationFailedText, ev.Message)
		case status.EventPollExhausted:
			fmt.Fprintf(os.Stderr, "\n  Nobody joined with %s; generate a new code to retry.\n\n", ev.Code)
		}
	})

	var feed *http.Server
	if cfg.StatusAddr != "" {
		feed = &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           status.NewFeedServer(hub, s).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.StatusAddr).Msg("status feed listening")
			if err := feed.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status feed")
			}
		}()
	}

	if auto {
		s.GenerateCode()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if feed != nil {
		if err := feed.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("status feed: %w", err))
		}
	}
	if err := s.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	st := pipeline.Stats()
	log.Info().
		Uint64("received", st.Received).
		Uint64("presented", st.Presented).
		Uint64("dropped", st.Dropped).
		Uint64("timeouts", st.Timeouts).
		Msg("done")
	return errors.Join(errs...)
}
