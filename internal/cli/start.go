package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mauvedb/mauved/internal/backend"
	"github.com/mauvedb/mauved/internal/changefeed"
	"github.com/mauvedb/mauved/internal/config"
	"github.com/mauvedb/mauved/internal/logging"
	"github.com/mauvedb/mauved/internal/server"

	// Register every changefeed backend so the configured system resolves.
	_ "github.com/mauvedb/mauved/internal/changefeed/aws"
	_ "github.com/mauvedb/mauved/internal/changefeed/channel"
	_ "github.com/mauvedb/mauved/internal/changefeed/http"
	_ "github.com/mauvedb/mauved/internal/changefeed/jetstream"
	_ "github.com/mauvedb/mauved/internal/changefeed/kafka"
	_ "github.com/mauvedb/mauved/internal/changefeed/nats"
	_ "github.com/mauvedb/mauved/internal/changefeed/rabbitmq"
)

// StartCmd is the 'mauved start' command.
type StartCmd struct{}

// Run brings the daemon up: config, changefeed, backend, indexer,
// metrics endpoint, then the TCP server. It blocks until the bound
// context is cancelled and the drain finishes.
func (c *StartCmd) Run(ctx context.Context) error {
	cfg, err := loadConfig(RootCmd.Config)
	if err != nil {
		return err
	}

	log := newLogger()
	log.Info("Starting mauved", logging.LogFields{
		"version":    Version,
		"listen":     cfg.ListenAddr,
		"changefeed": cfg.Changefeed.System,
	})
	log.Debug("Configuration loaded", logging.LogFields{"config": cfg.String()})

	transport, err := changefeed.Build(ctx, cfg, logging.NewWatermillAdapter(log))
	if err != nil {
		return fmt.Errorf("changefeed: %w", err)
	}
	feed := changefeed.NewFeed(transport, cfg.GetChangefeedTopic())
	defer feed.Close()

	registry := prometheus.NewRegistry()

	b, err := backend.Open(cfg, feed, backend.NewMetrics(registry), log)
	if err != nil {
		return err
	}
	defer b.Close()

	go func() {
		if err := b.StartIndexer(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Indexer stopped", err, nil)
		}
	}()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Port, registry, log)
	}

	coordinator := server.NewShutdownCoordinator()
	go func() {
		<-ctx.Done()
		log.Info("Shutdown signal received", logging.LogFields{
			"drain_timeout": cfg.DrainTimeout.Std().String(),
		})
		coordinator.SignalShutdown(cfg.DrainTimeout.Std())
	}()

	srv := server.NewServer(cfg, b, coordinator, server.NewMetrics(registry), log)
	return srv.Serve(ctx)
}

// loadConfig reads the file at path. The default path is allowed to be
// absent (pure-defaults run); an explicitly configured one is not.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == DefaultConfigPath {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger() logging.ServiceLogger {
	level := slog.LevelInfo
	if RootCmd.Debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return logging.NewSlogServiceLogger(slog.New(handler))
}

// serveMetrics exposes the Prometheus registry over HTTP. Failures are
// logged but never take the daemon down.
func serveMetrics(port int, registry *prometheus.Registry, log logging.ServiceLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("Metrics endpoint up", logging.LogFields{"address": srv.Addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Metrics endpoint failed", err, nil)
	}
}
