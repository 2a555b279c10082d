package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"alttext/internal/http/handlers"
	httpapi "alttext/internal/http/httpapi"
	"alttext/internal/infra"
	"alttext/internal/jobs"
	"alttext/internal/providers/replicate"
	"alttext/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	client, err := replicate.NewFromConfig(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure replicate client")
	}

	registry, err := session.NewRegistry(session.Options{
		Poller:      jobs.OptionsFromConfig(cfg, client, &logger),
		TTL:         cfg.SessionTTL,
		MaxSessions: cfg.MaxSessions,
		Logger:      &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to create session registry")
	}
	defer registry.Close()

	app := handlers.NewApp(registry, &logger)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, cfg, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", server.Addr()).
			Str("model_version", client.ModelVersion()).
			Dur("poll_interval", cfg.PollInterval).
			Msg("api: listening")
		return server.Start()
	})
	g.Go(func() error {
		sweepSessions(ctx, registry, &logger)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Closing sessions ends their event streams.
		registry.Close()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api: server stopped")
}

// sweepSessions expires idle sessions until ctx is done.
func sweepSessions(ctx context.Context, registry *session.Registry, logger *infra.Logger) {
	interval := registry.TTL() / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := registry.Sweep(now); n > 0 {
				logger.Debug().Int("expired", n).Int("sessions", registry.Len()).Msg("api: session sweep")
			}
		}
	}
}
