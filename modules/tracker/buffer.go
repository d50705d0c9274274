package tracker

import (
	"sync"
	"time"

	"github.com/open-edge-platform/scene-tracker/pkg/model"
	"github.com/open-edge-platform/scene-tracker/pkg/obs"
)

// timeChunkBuffer aggregates inbound batches per (scope, camera) with
// keep-latest semantics. It is the only structure shared between the ingress
// thread and the scheduler; the critical section is map operations only.
type timeChunkBuffer struct {
	maxLag time.Duration

	mtx     sync.Mutex
	batches map[model.Scope]map[string]*model.DetectionBatch
}

func newTimeChunkBuffer(maxLag time.Duration) *timeChunkBuffer {
	return &timeChunkBuffer{
		maxLag:  maxLag,
		batches: make(map[model.Scope]map[string]*model.DetectionBatch),
	}
}

// Add inserts the batch under (scope, camera), replacing and superseding any
// batch already held for that key. Batches older than maxLag are dropped.
func (b *timeChunkBuffer) Add(batch *model.DetectionBatch) {
	b.addAt(batch, time.Now())
}

func (b *timeChunkBuffer) addAt(batch *model.DetectionBatch, now time.Time) {
	batch.ObsCtx.Enter(obs.StageBuffer)

	// lag of exactly maxLag already counts as fallen behind
	if now.Sub(batch.Timestamp) >= b.maxLag {
		batch.ObsCtx.Abort(obs.ReasonFellBehind)
		return
	}

	scope := model.Scope{SceneID: batch.ObsCtx.Scene(), Category: batch.ObsCtx.Category()}

	b.mtx.Lock()
	cameras := b.batches[scope]
	if cameras == nil {
		cameras = make(map[string]*model.DetectionBatch)
		b.batches[scope] = cameras
	}
	old := cameras[batch.CameraID]
	cameras[batch.CameraID] = batch
	b.mtx.Unlock()

	if old != nil {
		old.ObsCtx.Abort(obs.ReasonSuperseded)
	}
}

// PopAll atomically swaps the accumulated state with an empty map and
// returns the old one.
func (b *timeChunkBuffer) PopAll() map[model.Scope]map[string]*model.DetectionBatch {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	out := b.batches
	b.batches = make(map[model.Scope]map[string]*model.DetectionBatch)
	return out
}
