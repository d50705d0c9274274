// Package app wires the broker client, pipeline and healthcheck server
// together and owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/multierror"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"

	"github.com/open-edge-platform/scene-tracker/modules/broker"
	"github.com/open-edge-platform/scene-tracker/modules/healthcheck"
	"github.com/open-edge-platform/scene-tracker/modules/tracker"
	"github.com/open-edge-platform/scene-tracker/pkg/tracing"
)

const appName = "scene-tracker"

type App struct {
	cfg    Config
	logger log.Logger

	broker  *broker.Client
	tracker *tracker.Tracker
	health  *healthcheck.Server
}

func New(cfg Config, logger log.Logger) (*App, error) {
	if cfg.MQTT.ClientID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.MQTT.ClientID = fmt.Sprintf("tracker-%s-%d", hostname, os.Getpid())
	}

	client := broker.New(cfg.MQTT, logger)

	trk, err := tracker.New(cfg.Tracker, cfg.Engine.Factory(), client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	// ingest path: broker callback goes straight to parse + buffer insert
	client.SetOnMessage(trk.HandleMessage)
	client.AddSubscription(trk.CameraTopic())

	health := healthcheck.New(cfg.Healthcheck, client.CheckReady, cfg, logger)

	prometheus.MustRegister(versioncollector.NewCollector("scenescape_tracker"))

	return &App{
		cfg:     cfg,
		logger:  logger,
		broker:  client,
		tracker: trk,
		health:  health,
	}, nil
}

// Run starts all services, blocks until a termination signal or a service
// failure, then shuts the pipeline down in dependency order: ingest and
// workers drain before the broker connection closes.
func (a *App) Run() error {
	ctx := context.Background()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv("OTEL_TRACES_EXPORTER") != "" {
		shutdownTracer, err := tracing.InstallOpenTelemetryTracer(ctx, appName, a.logger)
		if err != nil {
			return fmt.Errorf("failed to install tracer: %w", err)
		}
		defer shutdownTracer()
	}

	if err := services.StartAndAwaitRunning(ctx, a.health); err != nil {
		return fmt.Errorf("failed to start healthcheck server: %w", err)
	}
	// broker-unreachable is not fatal: the client keeps retrying and
	// readiness stays false until connect + subscribe succeed
	if err := services.StartAndAwaitRunning(ctx, a.broker); err != nil {
		return fmt.Errorf("failed to start broker client: %w", err)
	}
	if err := services.StartAndAwaitRunning(ctx, a.tracker); err != nil {
		return fmt.Errorf("failed to start tracker: %w", err)
	}

	level.Info(a.logger).Log("msg", "scene tracker up", "version", version.Version)

	watcher := services.NewFailureWatcher()
	watcher.WatchService(a.health)
	watcher.WatchService(a.broker)
	watcher.WatchService(a.tracker)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-signalCh:
		level.Info(a.logger).Log("msg", "received signal, shutting down", "signal", sig)
	case err := <-watcher.Chan():
		runErr = err
		level.Error(a.logger).Log("msg", "service failed, shutting down", "err", err)
	}

	// readiness drops immediately so nothing new routes here during the
	// drain window; liveness stays true until the process exits
	a.health.SetDraining()

	// shutdown order matters: the tracker drains its workers through the
	// broker connection, so the broker stops after it
	var stopErrs multierror.MultiError
	stopErrs.Add(services.StopAndAwaitTerminated(ctx, a.tracker))
	stopErrs.Add(services.StopAndAwaitTerminated(ctx, a.broker))
	stopErrs.Add(services.StopAndAwaitTerminated(ctx, a.health))

	if err := stopErrs.Err(); err != nil && runErr == nil {
		level.Warn(a.logger).Log("msg", "failed to stop cleanly", "err", err)
	}

	level.Info(a.logger).Log("msg", "scene tracker stopped")
	return runErr
}
