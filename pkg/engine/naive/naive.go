// Package naive is a minimal reference tracking engine: greedy
// nearest-neighbor association on world-plane centroids with
// constant-velocity prediction. It exists so the service runs end-to-end
// without an external tracking backend; production deployments are expected
// to plug in a real engine behind the engine.Engine interface.
package naive

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/open-edge-platform/scene-tracker/pkg/engine"
	"github.com/open-edge-platform/scene-tracker/pkg/model"
)

const (
	defaultAssociationRadius = 2.0 // meters
	defaultReliableHits      = 3
	defaultMissTimeout       = time.Second
	defaultMetersPerPixel    = 0.01
)

// Config tunes the association and reliability policy.
type Config struct {
	// AssociationRadius is the maximum centroid distance, in meters, for a
	// detection to update an existing track.
	AssociationRadius float64
	// ReliableHits is the number of updates before a track is published.
	ReliableHits int
	// MissTimeout retires a track not updated for this long.
	MissTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.AssociationRadius <= 0 {
		c.AssociationRadius = defaultAssociationRadius
	}
	if c.ReliableHits <= 0 {
		c.ReliableHits = defaultReliableHits
	}
	if c.MissTimeout <= 0 {
		c.MissTimeout = defaultMissTimeout
	}
}

// CameraParams is the flat-ground calibration for one camera: a world-plane
// origin plus an isotropic scale. Real engines use full intrinsics and
// extrinsics; the naive engine only needs a plane mapping.
type CameraParams struct {
	OriginX        float64 `yaml:"origin_x"`
	OriginY        float64 `yaml:"origin_y"`
	MetersPerPixel float64 `yaml:"meters_per_pixel"`
}

type track struct {
	id       string
	x, y     float64
	vx, vy   float64
	w, h     float64
	hits     int
	lastSeen time.Time
}

// Tracker implements engine.Engine. Not safe for concurrent use; the
// pipeline drives each instance from a single worker goroutine.
type Tracker struct {
	cfg     Config
	cameras map[string]CameraParams
	tracks  []*track
	last    time.Time
}

var _ engine.Engine = (*Tracker)(nil)

// New creates a naive engine. cameras maps camera IDs to their plane
// calibration; unknown cameras fall back to an identity mapping.
func New(cfg Config, cameras map[string]CameraParams) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:     cfg,
		cameras: cameras,
	}
}

// Factory adapts New to the engine.Factory signature with shared config and
// calibration for all scopes.
func Factory(cfg Config, cameras map[string]CameraParams) engine.Factory {
	return func(model.Scope) engine.Engine {
		return New(cfg, cameras)
	}
}

// ProjectToWorld maps the bottom-center of the pixel bbox onto the ground
// plane using the camera's calibration.
func (t *Tracker) ProjectToWorld(bbox model.BoundingBoxPx, cameraID string) engine.WorldRect {
	params, ok := t.cameras[cameraID]
	if !ok {
		params = CameraParams{MetersPerPixel: defaultMetersPerPixel}
	}
	if params.MetersPerPixel == 0 {
		params.MetersPerPixel = defaultMetersPerPixel
	}

	mpp := params.MetersPerPixel
	w := bbox.Width * mpp
	h := bbox.Height * mpp
	return engine.WorldRect{
		X:      params.OriginX + (bbox.X+bbox.Width/2)*mpp - w/2,
		Y:      params.OriginY + (bbox.Y+bbox.Height)*mpp - h/2,
		Width:  w,
		Height: h,
	}
}

// Track performs predict, greedy nearest-neighbor associate, spawn and
// retire in one pass.
func (t *Tracker) Track(inputs []engine.Input, when time.Time) {
	if !t.last.IsZero() {
		dt := when.Sub(t.last).Seconds()
		if dt > 0 {
			for _, tr := range t.tracks {
				tr.x += tr.vx * dt
				tr.y += tr.vy * dt
			}
		}
	}
	t.last = when

	claimed := make(map[*track]bool, len(t.tracks))
	for _, in := range inputs {
		cx := in.Rect.X + in.Rect.Width/2
		cy := in.Rect.Y + in.Rect.Height/2

		best := t.nearestUnclaimed(cx, cy, claimed)
		if best == nil {
			t.tracks = append(t.tracks, &track{
				id:       uuid.NewString(),
				x:        cx,
				y:        cy,
				w:        in.Rect.Width,
				h:        in.Rect.Height,
				hits:     1,
				lastSeen: when,
			})
			continue
		}

		claimed[best] = true
		if dt := when.Sub(best.lastSeen).Seconds(); dt > 0 {
			best.vx = (cx - best.x) / dt
			best.vy = (cy - best.y) / dt
		}
		best.x = cx
		best.y = cy
		best.w = in.Rect.Width
		best.h = in.Rect.Height
		best.hits++
		best.lastSeen = when
	}

	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if when.Sub(tr.lastSeen) < t.cfg.MissTimeout {
			kept = append(kept, tr)
		}
	}
	t.tracks = kept
}

func (t *Tracker) nearestUnclaimed(cx, cy float64, claimed map[*track]bool) *track {
	var best *track
	bestDist := t.cfg.AssociationRadius
	for _, tr := range t.tracks {
		if claimed[tr] {
			continue
		}
		d := math.Hypot(tr.x-cx, tr.y-cy)
		if d <= bestDist {
			best = tr
			bestDist = d
		}
	}
	return best
}

// ReliableTracks returns tracks seen at least ReliableHits times.
func (t *Tracker) ReliableTracks() []engine.Track {
	out := make([]engine.Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		if tr.hits < t.cfg.ReliableHits {
			continue
		}
		out = append(out, engine.Track{
			ID:          tr.id,
			Translation: [3]float64{tr.x, tr.y, 0},
			Velocity:    [3]float64{tr.vx, tr.vy, 0},
			Size:        [3]float64{tr.w, tr.h, 0},
			Rotation:    [4]float64{0, 0, 0, 1},
		})
	}
	return out
}
