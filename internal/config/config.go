// Package config loads and validates camon's TOML configuration file, per
// original_source/src/config.rs's field set and defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrNoCameras is returned by Load/Validate when the config declares no
// cameras — there is nothing for the pipeline to run.
var ErrNoCameras = errors.New("config: no cameras configured")

// Camera identifies one RTSP source to ingest.
type Camera struct {
	ID  string `toml:"id"`
	URL string `toml:"url"`
}

// BufferConfig controls the Hot Buffer's retention window.
type BufferConfig struct {
	HotDurationSecs uint64 `toml:"hot_duration_secs"`
}

// HTTPConfig is echoed into logs only; this module doesn't bind an HTTP
// listener itself.
type HTTPConfig struct {
	Port uint16 `toml:"port"`
}

// ObjectDetectionConfig controls the analytics object detector.
type ObjectDetectionConfig struct {
	Enabled             bool     `toml:"enabled"`
	ModelPath           string   `toml:"model_path"`
	ConfidenceThreshold float32  `toml:"confidence_threshold"`
	Classes             []string `toml:"classes"`
}

// AnalyticsConfig controls motion detection and object detection sampling.
type AnalyticsConfig struct {
	Enabled         bool                  `toml:"enabled"`
	SampleFPS       uint32                `toml:"sample_fps"`
	ObjectDetection ObjectDetectionConfig `toml:"object_detection"`
}

// StorageConfig controls the Warm Flusher and its padding windows.
type StorageConfig struct {
	Enabled         bool   `toml:"enabled"`
	DataDir         string `toml:"data_dir"`
	PrePaddingSecs  uint64 `toml:"pre_padding_secs"`
	PostPaddingSecs uint64 `toml:"post_padding_secs"`
}

// Config is the top-level document loaded from config.toml.
type Config struct {
	Buffer    BufferConfig    `toml:"buffer"`
	HTTP      HTTPConfig      `toml:"http"`
	Analytics AnalyticsConfig `toml:"analytics"`
	Storage   StorageConfig   `toml:"storage"`
	Cameras   []Camera        `toml:"cameras"`
}

const defaultConfigPath = "config.toml"

// Load reads and validates config.toml from the current directory.
func Load() (*Config, error) {
	return LoadFrom(defaultConfigPath)
}

// LoadFrom reads and validates the TOML document at path, filling in
// defaults for any field the document omits.
func LoadFrom(path string) (*Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the TOML decoder can't enforce on its own.
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return ErrNoCameras
	}
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("config: camera entry with empty id")
		}
		if cam.URL == "" {
			return fmt.Errorf("config: camera %q has no url", cam.ID)
		}
	}
	return nil
}

// HotDuration returns the Hot Buffer's configured retention window as a
// time.Duration.
func (c *Config) HotDuration() time.Duration {
	return time.Duration(c.Buffer.HotDurationSecs) * time.Second
}

// defaults mirrors original_source/src/config.rs's per-field #[serde(default
// = ...)] values; toml.DecodeFile only overwrites fields present in the
// document, so starting from this struct reproduces Serde's defaulting
// behavior field-by-field.
func defaults() Config {
	return Config{
		Buffer: BufferConfig{HotDurationSecs: 600},
		HTTP:   HTTPConfig{Port: 8080},
		Analytics: AnalyticsConfig{
			Enabled:   false,
			SampleFPS: 5,
			ObjectDetection: ObjectDetectionConfig{
				Enabled:             false,
				ModelPath:           "https://huggingface.co/onnx-community/yolo26n-ONNX/resolve/main/onnx/model.onnx",
				ConfidenceThreshold: 0.5,
				Classes:             []string{"person", "car", "truck", "dog", "cat"},
			},
		},
		Storage: StorageConfig{
			Enabled:         true,
			DataDir:         "/var/camon/storage",
			PrePaddingSecs:  5,
			PostPaddingSecs: 10,
		},
	}
}
