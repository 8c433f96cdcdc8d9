package analytics

import "time"

// Config holds the per-camera analytics settings recognized under the
// TOML `[analytics]` and `[analytics.object_detection]` tables.
type Config struct {
	Enabled   bool
	SampleFPS int

	MotionPercentile float64 // adaptive threshold percentile, default 0.90
	MinMotionRatio   float64 // absolute floor, default 0.05
	HistogramWindow  int     // sample count, default 120

	OpenDelay  time.Duration // D_open, default 500ms
	CloseDelay time.Duration // D_close, default 2s

	Zones []Zone

	ObjectDetection ObjectDetectionConfig
}

// ObjectDetectionConfig configures the object classifier invoked on
// motion-event open.
type ObjectDetectionConfig struct {
	Enabled             bool
	ModelPath           string
	ConfidenceThreshold float64
	Classes             []string
}

// DefaultConfig returns camon's baseline analytics settings, for callers
// that don't load a TOML file.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		SampleFPS:        5,
		MotionPercentile: 0.90,
		MinMotionRatio:   0.05,
		HistogramWindow:  120,
		OpenDelay:        500 * time.Millisecond,
		CloseDelay:       2 * time.Second,
		ObjectDetection: ObjectDetectionConfig{
			ConfidenceThreshold: 0.5,
			Classes:             []string{"person", "car", "truck", "dog", "cat"},
		},
	}
}
