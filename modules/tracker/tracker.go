// Package tracker implements the time-chunked aggregation and dispatch
// pipeline: ingest parses camera payloads into batches, a bounded buffer
// keeps the latest batch per (scope, camera), and a fixed-cadence scheduler
// swaps the buffer and dispatches chunks to per-scope workers.
package tracker

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"

	"github.com/open-edge-platform/scene-tracker/modules/codec"
	"github.com/open-edge-platform/scene-tracker/pkg/engine"
	"github.com/open-edge-platform/scene-tracker/pkg/model"
	"github.com/open-edge-platform/scene-tracker/pkg/obs"
)

// Tracker is the pipeline service. Message ingest runs on the broker
// client's thread; the scheduler loop runs in the service's running
// goroutine and exclusively owns the worker registry.
type Tracker struct {
	services.Service

	cfg    Config
	logger log.Logger

	codec         *codec.Codec
	buffer        *timeChunkBuffer
	pub           *publisher
	engineFactory engine.Factory

	workers map[model.Scope]*worker

	ingestStopped atomic.Bool
	fatalCh       chan error
}

func New(cfg Config, engineFactory engine.Factory, client BrokerPublisher, logger log.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c, err := codec.New(cfg.SceneID, cfg.SchemaValidation, logger)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		cfg:           cfg,
		logger:        log.With(logger, "component", "tracker"),
		codec:         c,
		buffer:        newTimeChunkBuffer(cfg.MaxLag),
		pub:           &publisher{codec: c, client: client},
		engineFactory: engineFactory,
		workers:       make(map[model.Scope]*worker),
		fatalCh:       make(chan error, 1),
	}
	t.Service = services.NewBasicService(nil, t.running, t.stopping)
	return t, nil
}

// HandleMessage is the broker message callback: parse plus buffer insert
// only, no tracking work on the ingress thread. It is safe to call
// concurrently.
func (t *Tracker) HandleMessage(topic string, payload []byte, userProps map[string]string) {
	receivedAt := time.Now()

	batches, err := t.codec.Decode(topic, payload, userProps, receivedAt)
	if err != nil {
		level.Warn(t.logger).Log("msg", "failed to decode camera message", "topic", topic, "err", err)
		return
	}

	if t.ingestStopped.Load() {
		for _, b := range batches {
			b.ObsCtx.Abort(obs.ReasonShutdown)
		}
		return
	}

	for _, b := range batches {
		t.buffer.Add(b)
	}
}

func (t *Tracker) running(ctx context.Context) error {
	level.Info(t.logger).Log("msg", "scheduler started", "chunk_interval", t.cfg.ChunkInterval)

	timer := time.NewTimer(t.cfg.ChunkInterval)
	defer timer.Stop()
	next := time.Now().Add(t.cfg.ChunkInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-t.fatalCh:
			return err
		case <-timer.C:
			t.tick(time.Now())

			// absolute-deadline scheduling so tick jitter does not
			// accumulate; a missed deadline skips ticks instead of bursting
			next = next.Add(t.cfg.ChunkInterval)
			wait := time.Until(next)
			if wait <= 0 {
				next = time.Now().Add(t.cfg.ChunkInterval)
				wait = t.cfg.ChunkInterval
			}
			timer.Reset(wait)
		}
	}
}

// tick swaps the buffer and dispatches one chunk per scope with pending
// batches. Runs only on the scheduler goroutine.
func (t *Tracker) tick(now time.Time) {
	start := time.Now()
	defer func() {
		metricTickDuration.Observe(time.Since(start).Seconds())
	}()

	snapshot := t.buffer.PopAll()
	for scope, cameras := range snapshot {
		w := t.workers[scope]
		if w == nil {
			w = newWorker(scope, t.cfg.SceneName, t.cfg.ThingType, t.engineFactory(scope), t.cfg.WorkerQueueCapacity, t.pub, t.fatal, t.logger)
			t.workers[scope] = w
			metricActiveWorkers.Inc()
		}

		batches := make([]*model.DetectionBatch, 0, len(cameras))
		for _, b := range cameras {
			batches = append(batches, b)
		}
		sort.Slice(batches, func(i, j int) bool {
			return batches[i].Timestamp.Before(batches[j].Timestamp)
		})

		chunk := &model.Chunk{Scope: scope, ChunkTime: now, Batches: batches}
		for _, b := range batches {
			b.ObsCtx.Enter(obs.StageDispatch)
		}

		if !w.enqueue(chunk) {
			for _, b := range batches {
				b.ObsCtx.Abort(obs.ReasonTrackerBusy)
			}
			continue
		}
		metricChunksDispatched.WithLabelValues(scope.SceneID, scope.Category).Inc()
	}
}

// stopping drains the pipeline: stop ingest, one final dispatch, then
// sentinels to every live worker and a bounded wait for them to exit.
func (t *Tracker) stopping(_ error) error {
	t.ingestStopped.Store(true)
	t.tick(time.Now())

	deadline := time.Now().Add(t.cfg.DrainTimeout)
	for scope, w := range t.workers {
		if !w.sendSentinel(time.Until(deadline)) {
			level.Warn(t.logger).Log("msg", "shutdown_timeout", "detail", "sentinel not delivered, abandoning worker", "scene", scope.SceneID, "category", scope.Category)
			w.drainAbort()
		}
	}
	for scope, w := range t.workers {
		select {
		case <-w.done:
			metricActiveWorkers.Dec()
		case <-time.After(time.Until(deadline)):
			level.Warn(t.logger).Log("msg", "shutdown_timeout", "detail", "worker still busy, abandoning", "scene", scope.SceneID, "category", scope.Category)
			w.drainAbort()
		}
	}

	level.Info(t.logger).Log("msg", "tracker stopped")
	return nil
}

func (t *Tracker) fatal(err error) {
	select {
	case t.fatalCh <- err:
	default:
	}
}

// CameraTopic returns the subscription filter for inbound detections.
func (t *Tracker) CameraTopic() string {
	return t.cfg.CameraTopic
}
