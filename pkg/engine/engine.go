// Package engine defines the boundary to the multi-object tracking backend.
//
// The pipeline owns one Engine instance per (scene, category) scope and
// drives it from a single goroutine, so implementations do not need to be
// safe for concurrent use.
package engine

import (
	"time"

	"github.com/open-edge-platform/scene-tracker/pkg/model"
)

// WorldRect is an axis-aligned rectangle on the undistorted world ground
// plane, in meters.
type WorldRect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Input is one detection converted to the engine's per-camera input format.
type Input struct {
	CameraID string
	Rect     WorldRect
}

// Track is the engine's view of one tracked object. The ID is assigned by
// the engine and persists across frames.
type Track struct {
	ID          string
	Translation [3]float64
	Velocity    [3]float64
	Size        [3]float64
	Rotation    [4]float64
}

// Engine is a stateful multi-object tracker for a single scope.
type Engine interface {
	// Track updates the engine state with the detections of one chunk.
	// The call is CPU-bound and must not perform network I/O.
	Track(inputs []Input, when time.Time)

	// ReliableTracks returns the tracks the engine considers stable enough
	// to publish. The reliability policy is engine-defined.
	ReliableTracks() []Track

	// ProjectToWorld maps a pixel-space bounding box into a world-plane
	// rectangle using the camera's known intrinsics and extrinsics.
	ProjectToWorld(bbox model.BoundingBoxPx, cameraID string) WorldRect
}

// Factory creates a fresh Engine for a scope. Called by the scheduler on
// first use of a scope; the instance lives until service shutdown.
type Factory func(scope model.Scope) Engine
