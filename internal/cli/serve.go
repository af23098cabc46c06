package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/tutor/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API",
		Long:  "Serve /ask, /rag, /cognitive, /memory, /templates, /health and /metrics until interrupted.",
		Args:  cobra.NoArgs,
		Run:   runServe,
	}
	cmd.Flags().String("host", "", "Override the listen host")
	cmd.Flags().Int("port", 0, "Override the listen port")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, _ []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := mustApp(ctx)
	defer a.close()

	cfg := a.cfg.Server
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Port = port
	}

	srv := server.New(cfg, server.Deps{
		Service:     a.service,
		Engine:      a.engine,
		Sessions:    a.sessions,
		Templates:   a.templates,
		Health:      a.health,
		Metrics:     a.metrics,
		Gatherer:    a.registry,
		Logger:      a.logger,
		SearchLimit: a.cfg.Retrieval.SearchLimit,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			a.close()
			fatal("%v", err)
		}
	case <-ctx.Done():
		a.logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}
