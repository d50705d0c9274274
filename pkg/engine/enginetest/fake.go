// Package enginetest provides a scripted engine for pipeline tests.
package enginetest

import (
	"sync"
	"time"

	"github.com/open-edge-platform/scene-tracker/pkg/engine"
	"github.com/open-edge-platform/scene-tracker/pkg/model"
)

// Call records one Track invocation.
type Call struct {
	Inputs []engine.Input
	When   time.Time
}

// Fake is a scripted engine.Engine. Set Tracks to control what
// ReliableTracks returns and BlockFor to simulate a slow tracking pass.
// Safe for concurrent use so tests can inspect it while workers run.
type Fake struct {
	mtx      sync.Mutex
	Tracks   []engine.Track
	BlockFor time.Duration
	calls    []Call
}

var _ engine.Engine = (*Fake)(nil)

// Factory returns the same fake for every scope and records the scopes it
// was asked for.
func Factory(f *Fake, scopes *[]model.Scope) engine.Factory {
	var mtx sync.Mutex
	return func(scope model.Scope) engine.Engine {
		mtx.Lock()
		defer mtx.Unlock()
		if scopes != nil {
			*scopes = append(*scopes, scope)
		}
		return f
	}
}

func (f *Fake) Track(inputs []engine.Input, when time.Time) {
	f.mtx.Lock()
	f.calls = append(f.calls, Call{Inputs: inputs, When: when})
	block := f.BlockFor
	f.mtx.Unlock()

	if block > 0 {
		time.Sleep(block)
	}
}

func (f *Fake) ReliableTracks() []engine.Track {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	out := make([]engine.Track, len(f.Tracks))
	copy(out, f.Tracks)
	return out
}

// ProjectToWorld passes pixel coordinates through unchanged.
func (f *Fake) ProjectToWorld(bbox model.BoundingBoxPx, _ string) engine.WorldRect {
	return engine.WorldRect{X: bbox.X, Y: bbox.Y, Width: bbox.Width, Height: bbox.Height}
}

// Calls returns a copy of the recorded Track invocations.
func (f *Fake) Calls() []Call {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}
