package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/codesage/codesage/internal/cache"
	"github.com/codesage/codesage/internal/config"
	"github.com/codesage/codesage/internal/fetch"
	"github.com/codesage/codesage/internal/monitoring"
	"github.com/codesage/codesage/internal/relay"
	"github.com/codesage/codesage/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the review service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("configuration error")
		return err
	}

	contentCache := cache.New[string, string](cfg.Caches.ContentSize, cfg.Caches.ContentTTL)
	responseCache := cache.New[string, string](cfg.Caches.ResponseSize, cfg.Caches.ResponseTTL)

	metrics := monitoring.NewMetricsCollector()
	client := relay.NewClient(cfg.Upstream.URL, cfg.Upstream.APIKey,
		relay.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout}),
		relay.WithMaxAttempts(cfg.Upstream.MaxAttempts),
		relay.WithBackoffBase(cfg.Upstream.BackoffBase),
		relay.WithRetryHook(metrics.RecordUpstreamRetry),
	)
	orchestrator := relay.NewOrchestrator(client, cfg.Relay.HeartbeatInterval)
	fetcher := fetch.New(cfg.Fetch, contentCache)

	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled:     cfg.Monitoring.TelemetryPath != "",
		LogPath:     cfg.Monitoring.TelemetryPath,
		LogToStdout: cfg.Monitoring.LogToStdout,
	})
	if err != nil {
		log.Error().Err(err).Msg("telemetry init failed")
		return err
	}
	defer func() { _ = tracker.Close() }()

	var store *monitoring.EventStore
	if cfg.Monitoring.EventStorePath != "" {
		store, err = monitoring.OpenEventStore(cfg.Monitoring.EventStorePath)
		if err != nil {
			log.Error().Err(err).Msg("event store init failed")
			return err
		}
		defer func() { _ = store.Close() }()
	}

	tracker.RecordInit(&monitoring.InitEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   server.Version,
		Model:     cfg.Upstream.Model,
		Port:      cfg.Server.Port,
	})

	srv := server.New(cfg, server.Deps{
		Orchestrator:  orchestrator,
		Fetcher:       fetcher,
		ContentCache:  contentCache,
		ResponseCache: responseCache,
		Metrics:       metrics,
		Tracker:       tracker,
		Store:         store,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("model", cfg.Upstream.Model).
		Str("upstream", cfg.Upstream.URL).
		Msg("starting codesage")
	return srv.Start(ctx)
}
