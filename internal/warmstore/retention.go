package warmstore

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// defaultSweepInterval is how often the retention sweeper re-checks every
// camera's warm directory. Not configurable: it only bounds how promptly
// a stale segment is reclaimed, not any observable retention behavior.
const defaultSweepInterval = time.Minute

// Sweeper enforces Config.MaxAge and Config.MaxTotalBytes across a
// TierIndex's cameras, oldest segments first, as a background sweep.
type Sweeper struct {
	cfg   Config
	index *TierIndex
	log   *slog.Logger
}

// NewSweeper creates a Sweeper over index using cfg's retention bounds.
func NewSweeper(cfg Config, index *TierIndex, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{cfg: cfg, index: index, log: log.With("component", "warm-sweeper")}
}

// Run sweeps every camera on a fixed interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.cfg.MaxAge <= 0 && s.cfg.MaxTotalBytes <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	for _, cameraID := range s.index.CameraIDs() {
		s.sweepCamera(cameraID)
	}
}

func (s *Sweeper) sweepCamera(cameraID string) {
	removed := s.index.EnforceRetention(cameraID, s.cfg.MaxAge, s.cfg.MaxTotalBytes)
	for _, seg := range removed {
		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove expired warm segment", "path", seg.Path, "error", err)
			continue
		}
		s.log.Info("removed expired warm segment", "path", seg.Path, "camera", cameraID)
	}
}
