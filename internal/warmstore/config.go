package warmstore

import "time"

// Config controls the Warm Flusher and the retention sweeper. Defaults
// mirror original_source/src/config.rs's WarmConfig; ObjectPrePadding,
// ObjectPostPadding, MaxAge and MaxTotalBytes have no counterpart there
// and support the detection-trigger padding and retention sweep this port
// adds on top of it.
type Config struct {
	Enabled bool
	DataDir string

	// PrePadding/PostPadding extend a closed MotionEvent's window.
	PrePadding  time.Duration
	PostPadding time.Duration

	// ObjectPrePadding/ObjectPostPadding extend a single Detection's PTS
	// into a window; ObjectPrePadding defaults larger than PrePadding to
	// reach backward for pre-context, since a detection has no sustained
	// motion window of its own to pad outward from.
	ObjectPrePadding  time.Duration
	ObjectPostPadding time.Duration

	// MaxAge and MaxTotalBytes bound the retention sweeper; zero disables
	// the corresponding bound.
	MaxAge        time.Duration
	MaxTotalBytes int64
}

// DefaultConfig returns the defaults named in original_source/src/config.rs,
// supplemented with object-trigger padding and retention bounds.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		DataDir:           "/var/camon/storage",
		PrePadding:        5 * time.Second,
		PostPadding:       10 * time.Second,
		ObjectPrePadding:  30 * time.Second,
		ObjectPostPadding: 10 * time.Second,
		MaxAge:            0,
		MaxTotalBytes:     0,
	}
}
