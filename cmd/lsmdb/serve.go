package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lsmengine/internal/http"
	"lsmengine/pkg/metrics"
	"lsmengine/pkg/store"
)

var servePort int

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides http-server.port)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "open the store and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		reg := metrics.NewRegistry()
		return withStore(func(s *store.Store) error {
			server := http.NewServer(s, reg, cfg.Server)
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}

			<-ctx.Done()
			slog.Info("shutting down")
			return server.Stop()
		}, store.WithMetrics(reg))
	},
}
