package tracker

import (
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/open-edge-platform/scene-tracker/pkg/engine"
	"github.com/open-edge-platform/scene-tracker/pkg/model"
	"github.com/open-edge-platform/scene-tracker/pkg/obs"
)

// worker serializes tracking work for one scope. It owns its engine
// exclusively; chunks arrive through a bounded single-producer queue fed by
// the scheduler.
type worker struct {
	scope     model.Scope
	sceneName string
	thingType string

	engine engine.Engine
	pub    *publisher
	logger log.Logger

	queue chan *model.Chunk
	done  chan struct{}

	onFatal func(error)
}

func newWorker(scope model.Scope, sceneName, thingType string, eng engine.Engine, capacity int, pub *publisher, onFatal func(error), logger log.Logger) *worker {
	w := &worker{
		scope:     scope,
		sceneName: sceneName,
		thingType: thingType,
		engine:    eng,
		pub:       pub,
		logger:    log.With(logger, "scene", scope.SceneID, "category", scope.Category),
		queue:     make(chan *model.Chunk, capacity),
		done:      make(chan struct{}),
		onFatal:   onFatal,
	}
	go w.run()
	return w
}

// enqueue attempts a non-blocking put. The caller drops the chunk when the
// queue is at capacity.
func (w *worker) enqueue(chunk *model.Chunk) bool {
	select {
	case w.queue <- chunk:
		return true
	default:
		return false
	}
}

// sendSentinel delivers the in-band shutdown signal. Unlike enqueue it
// blocks, bounded by the drain deadline, so FIFO order is preserved and the
// sentinel is guaranteed to land behind all accepted chunks.
func (w *worker) sendSentinel(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case w.queue <- model.SentinelChunk():
		return true
	case <-t.C:
		return false
	}
}

// drainAbort empties the queue of an abandoned worker, terminating every
// still-queued batch as a shutdown drop. Called only after the sentinel
// failed to land or the worker failed to exit in time.
func (w *worker) drainAbort() {
	for {
		select {
		case chunk := <-w.queue:
			if chunk.IsSentinel() {
				continue
			}
			for _, b := range chunk.Batches {
				b.ObsCtx.Abort(obs.ReasonShutdown)
			}
		default:
			return
		}
	}
}

func (w *worker) run() {
	defer close(w.done)
	level.Info(w.logger).Log("msg", "worker started")
	for chunk := range w.queue {
		if chunk.IsSentinel() {
			level.Info(w.logger).Log("msg", "worker stopping")
			return
		}
		w.process(chunk)
	}
}

func (w *worker) process(chunk *model.Chunk) {
	for _, b := range chunk.Batches {
		b.ObsCtx.Enter(obs.StageTrack)
	}

	n := 0
	for _, b := range chunk.Batches {
		n += len(b.Detections)
	}
	inputs := make([]engine.Input, 0, n)
	for _, b := range chunk.Batches {
		for _, d := range b.Detections {
			inputs = append(inputs, engine.Input{
				CameraID: b.CameraID,
				Rect:     w.engine.ProjectToWorld(d.BBoxPx, b.CameraID),
			})
		}
	}

	w.engine.Track(inputs, chunk.ChunkTime)

	engineTracks := w.engine.ReliableTracks()
	tracks := make([]model.Track, 0, len(engineTracks))
	for _, et := range engineTracks {
		tracks = append(tracks, model.Track{
			ID:          et.ID,
			Category:    w.scope.Category,
			Translation: et.Translation,
			Velocity:    et.Velocity,
			Size:        et.Size,
			Rotation:    et.Rotation,
		})
	}

	ts := &model.TrackSet{
		SceneID:   w.scope.SceneID,
		SceneName: w.sceneName,
		ThingType: w.thingType,
		Timestamp: chunk.Batches[0].WallClock,
		Tracks:    tracks,
	}

	for _, b := range chunk.Batches {
		b.ObsCtx.Enter(obs.StagePublish)
	}

	userProps := make(map[string]string)
	chunk.Batches[0].ObsCtx.Inject(userProps)

	if err := w.pub.publish(ts, userProps); err != nil {
		if errors.Is(err, ErrEncode) {
			level.Error(w.logger).Log("msg", "failed to encode track set", "err", err)
			for _, b := range chunk.Batches {
				b.ObsCtx.Abort(obs.ReasonShutdown)
			}
			if w.onFatal != nil {
				w.onFatal(err)
			}
			return
		}
		for _, b := range chunk.Batches {
			b.ObsCtx.Abort(obs.ReasonBrokerUnavailable)
		}
		return
	}

	metricTracksPublished.WithLabelValues(w.scope.SceneID, w.scope.Category).Add(float64(len(tracks)))
	for _, b := range chunk.Batches {
		b.ObsCtx.Finalize()
	}
}
