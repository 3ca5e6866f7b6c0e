package main

import (
	"context"

	"github.com/egorky/iafsm/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the engine behind an HTTP API: POST /turn, session management,
server-sent events, POST /responses for async results and Prometheus metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()

		err := cli.RunServe(ctx, settings, logger)
		if sig := ctx.Signal(); sig != nil {
			logger.Info("shutdown complete", "signal", sig.String())
		}
		exitOnError("serving", err)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Int("metrics-port", 0, "Serve /metrics on a separate port (0 mounts it on the main port)")
	serveCmd.Flags().BoolP("watch", "w", false, "Reload the configuration when its files change")
}
