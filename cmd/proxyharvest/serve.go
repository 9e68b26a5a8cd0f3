package main

import (
	"github.com/spf13/cobra"

	"proxyharvest/internal/shared/logger"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web API and the scheduled harvest/revalidation tasks",
		Long: `Serve starts the HTTP API (with a WebSocket event stream on /ws) on
[web] port and runs the periodic tasks configured in [schedule].
It stops on Ctrl-C or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()
			go func() {
				<-ctx.Done()
				logger.Info().Msg("Received shutdown signal, stopping...")
				a.Stop()
			}()

			return a.Run()
		},
	}
}
