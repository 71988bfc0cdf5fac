package main

import (
	"pixelstreamer/native/internal/relay"

	"github.com/spf13/cobra"
)

func relayCmd(g *globalFlags) *cobra.Command {
	var (
		listen string
		rpm    int
		burst  int
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run an in-memory signaling relay for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.RelayListen
			}

			ctx, cancel := signalContext()
			defer cancel()

			srv := relay.NewServer(relay.NewStore(relay.DefaultCodeTTL), relay.NewRateLimiter(rpm, burst))
			return srv.ListenAndServe(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides PIXELSTREAM_RELAY_LISTEN)")
	cmd.Flags().IntVar(&rpm, "rpm", 120, "requests per minute allowed per client IP (0 disables)")
	cmd.Flags().IntVar(&burst, "burst", 20, "burst size per client IP")
	return cmd
}
