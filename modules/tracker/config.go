package tracker

import (
	"flag"
	"fmt"
	"time"
)

// Config drives the chunking pipeline: cadence, lag cutoff, queue bounds and
// the scene identity stamped onto every published track set.
type Config struct {
	SceneID   string `yaml:"scene_id"`
	SceneName string `yaml:"scene_name"`
	ThingType string `yaml:"thing_type"`

	CameraTopic string `yaml:"camera_topic"`

	ChunkInterval       time.Duration `yaml:"chunk_interval"`
	MaxLag              time.Duration `yaml:"max_lag"`
	WorkerQueueCapacity int           `yaml:"worker_queue_capacity"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`

	SchemaValidation bool `yaml:"schema_validation"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.SceneID, prefix+".scene-id", "scene-1", "Scene ID stamped onto published track sets.")
	f.StringVar(&cfg.SceneName, prefix+".scene-name", "Demo Scene", "Human-readable scene name.")
	f.StringVar(&cfg.ThingType, prefix+".thing-type", "thing", "Thing type segment of the outbound topic.")
	f.BoolVar(&cfg.SchemaValidation, prefix+".schema-validation", true, "Validate inbound and outbound payloads against the embedded schemas.")

	cfg.CameraTopic = "scenescape/data/camera/+"
	// 15 Hz
	cfg.ChunkInterval = 66700 * time.Microsecond
	cfg.MaxLag = time.Second
	cfg.WorkerQueueCapacity = 2
	cfg.DrainTimeout = 2 * time.Second
}

func (cfg *Config) Validate() error {
	if cfg.SceneID == "" {
		return fmt.Errorf("scene_id must not be empty")
	}
	if cfg.ChunkInterval <= 0 {
		return fmt.Errorf("chunk_interval must be positive, got %s", cfg.ChunkInterval)
	}
	if cfg.MaxLag <= 0 {
		return fmt.Errorf("max_lag must be positive, got %s", cfg.MaxLag)
	}
	if cfg.WorkerQueueCapacity <= 0 {
		return fmt.Errorf("worker_queue_capacity must be positive, got %d", cfg.WorkerQueueCapacity)
	}
	return nil
}
