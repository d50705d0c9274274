package naive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/scene-tracker/pkg/engine"
	"github.com/open-edge-platform/scene-tracker/pkg/model"
)

func TestProjectToWorld(t *testing.T) {
	e := New(Config{}, map[string]CameraParams{
		"cam1": {OriginX: 10, OriginY: 20, MetersPerPixel: 0.1},
	})

	r := e.ProjectToWorld(model.BoundingBoxPx{X: 100, Y: 200, Width: 40, Height: 80}, "cam1")
	assert.InDelta(t, 10+12-2, r.X, 1e-9)
	assert.InDelta(t, 20+28-4, r.Y, 1e-9)
	assert.InDelta(t, 4, r.Width, 1e-9)
	assert.InDelta(t, 8, r.Height, 1e-9)

	// unknown camera falls back to the default scale
	r = e.ProjectToWorld(model.BoundingBoxPx{X: 0, Y: 0, Width: 100, Height: 100}, "nope")
	assert.InDelta(t, 1, r.Width, 1e-9)
}

func TestTrackBecomesReliableAfterHits(t *testing.T) {
	e := New(Config{ReliableHits: 3}, nil)
	now := time.Now()

	in := []engine.Input{{CameraID: "cam1", Rect: engine.WorldRect{X: 1, Y: 1, Width: 0.5, Height: 0.5}}}

	e.Track(in, now)
	require.Empty(t, e.ReliableTracks())

	e.Track(in, now.Add(66*time.Millisecond))
	require.Empty(t, e.ReliableTracks())

	e.Track(in, now.Add(132*time.Millisecond))
	tracks := e.ReliableTracks()
	require.Len(t, tracks, 1)
	assert.NotEmpty(t, tracks[0].ID)
	assert.InDelta(t, 1.25, tracks[0].Translation[0], 1e-9)
}

func TestTrackIdentityPersistsAcrossFrames(t *testing.T) {
	e := New(Config{ReliableHits: 1}, nil)
	now := time.Now()

	e.Track([]engine.Input{{Rect: engine.WorldRect{X: 0, Y: 0, Width: 1, Height: 1}}}, now)
	first := e.ReliableTracks()
	require.Len(t, first, 1)

	// moves less than the association radius, same track
	e.Track([]engine.Input{{Rect: engine.WorldRect{X: 0.5, Y: 0.5, Width: 1, Height: 1}}}, now.Add(66*time.Millisecond))
	second := e.ReliableTracks()
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestDistantDetectionSpawnsNewTrack(t *testing.T) {
	e := New(Config{ReliableHits: 1, AssociationRadius: 2}, nil)
	now := time.Now()

	e.Track([]engine.Input{{Rect: engine.WorldRect{X: 0, Y: 0, Width: 1, Height: 1}}}, now)
	e.Track([]engine.Input{{Rect: engine.WorldRect{X: 10, Y: 10, Width: 1, Height: 1}}}, now.Add(66*time.Millisecond))

	assert.Len(t, e.ReliableTracks(), 2)
}

func TestMissedTrackRetires(t *testing.T) {
	e := New(Config{ReliableHits: 1, MissTimeout: 500 * time.Millisecond}, nil)
	now := time.Now()

	e.Track([]engine.Input{{Rect: engine.WorldRect{X: 0, Y: 0, Width: 1, Height: 1}}}, now)
	require.Len(t, e.ReliableTracks(), 1)

	// an empty frame past the miss timeout drops the track
	e.Track(nil, now.Add(time.Second))
	assert.Empty(t, e.ReliableTracks())
}

func TestConstantVelocityPrediction(t *testing.T) {
	e := New(Config{ReliableHits: 1}, nil)
	now := time.Now()

	// moving +1 m/s in x
	e.Track([]engine.Input{{Rect: engine.WorldRect{X: 0, Y: 0, Width: 1, Height: 1}}}, now)
	e.Track([]engine.Input{{Rect: engine.WorldRect{X: 1, Y: 0, Width: 1, Height: 1}}}, now.Add(time.Second))

	tracks := e.ReliableTracks()
	require.Len(t, tracks, 1)
	assert.InDelta(t, 1.0, tracks[0].Velocity[0], 1e-9)

	// empty frame advances the prediction
	e.Track(nil, now.Add(1500*time.Millisecond))
	tracks = e.ReliableTracks()
	require.Len(t, tracks, 1)
	assert.InDelta(t, 2.0, tracks[0].Translation[0], 1e-9)
}
