package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stockquote/internal/app"
	"stockquote/internal/config"
	"stockquote/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Serve stock quotes over HTTP",
		Long:          "Serves GET /quote?symbol= backed by the primary quote API, the Google Finance scraper and the reference table.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (default: $CONFIG_FILE or ./config.yaml)")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	log, closer := logging.New(cfg.Log)
	defer closer.Close()
	log = log.With().Str("component", "http").Logger()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	s := &server{
		quotes:         a.Aggregator,
		holdings:       a.Holdings,
		concurrency:    cfg.Quote.Concurrency,
		metrics:        a.Metrics.Handler(),
		maxBatch:       cfg.Server.MaxBatch,
		requestTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		corsOrigins:    cfg.Server.CORSOrigins,
		log:            log,
	}
	if cfg.Server.DebugRoutes && a.Scraper != nil {
		s.tracer = a.Scraper
		log.Warn().Msg("debug routes enabled")
	}

	// write timeout leaves room for a full request timeout plus encoding
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("default_symbol", cfg.Quote.DefaultSymbol).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
