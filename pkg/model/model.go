package model

import (
	"time"

	"github.com/open-edge-platform/scene-tracker/pkg/obs"
)

// BoundingBoxPx is an axis-aligned bounding box in image pixel coordinates.
type BoundingBoxPx struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Detection is a single object observation from inference. The ID is
// frame-local and carries no cross-frame meaning.
type Detection struct {
	ID     *int
	BBoxPx BoundingBoxPx
}

// DetectionBatch holds all detections of one category from a single camera
// frame. Timestamp is the monotonic receive time used for chunking and lag
// checks; WallClock preserves the upstream ISO-8601 timestamp verbatim so it
// can be echoed into the output.
type DetectionBatch struct {
	CameraID   string
	Timestamp  time.Time
	WallClock  string
	Detections []Detection
	ObsCtx     *obs.Context
}

// Scope is the routing key for tracker isolation. Two scopes with identical
// fields are the same scope.
type Scope struct {
	SceneID  string
	Category string
}

// Chunk is the dispatch unit produced by the scheduler: all batches of one
// scope collected during a tick, sorted ascending by Timestamp. Chunks are
// immutable after construction.
type Chunk struct {
	Scope     Scope
	ChunkTime time.Time
	Batches   []*DetectionBatch
}

// IsSentinel reports whether this chunk is an in-band shutdown signal.
func (c *Chunk) IsSentinel() bool {
	return c.Scope.SceneID == ""
}

// SentinelChunk builds the in-band shutdown signal delivered to workers.
func SentinelChunk() *Chunk {
	return &Chunk{}
}

// Track is one tracked object in world coordinates. Rotation is a unit
// quaternion in scalar-last order [x, y, z, w].
type Track struct {
	ID          string
	Category    string
	Translation [3]float64
	Velocity    [3]float64
	Size        [3]float64
	Rotation    [4]float64
}

// TrackSet is the published unit: all reliable tracks of one scope for one
// chunk. Timestamp is the wall-clock timestamp echoed from the input batch.
type TrackSet struct {
	SceneID   string
	SceneName string
	ThingType string
	Timestamp string
	Tracks    []Track
}
