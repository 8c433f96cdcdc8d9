package analytics

import (
	"sync"

	"github.com/google/uuid"
)

const ptsPerSecond = 90000

// MotionEvent records one rise-to-fall motion episode. StartPTS/EndPTS are
// in 90 kHz ticks; EndPTS tracks the last in-motion sample observed, not
// the grace period spent waiting for D_close to confirm the episode ended.
type MotionEvent struct {
	ID            uuid.UUID
	Sequence      uint64
	CameraID      string
	StartPTS      int64
	EndPTS        int64
	Intensity     float64
	MaskThumbnail []byte
}

// EventTracker applies D_open/D_close hysteresis to a stream of per-sample
// motion scores, one instance per camera.
type EventTracker struct {
	mu       sync.Mutex
	cameraID string

	openTicks  int64
	closeTicks int64

	nextSeq uint64

	current       *MotionEvent
	runStart      *int64
	samplePeriod  int64
	quiescentFrom *int64
	lastMotionPTS int64
	maxRatio      float64
}

// NewEventTracker creates a tracker whose D_open/D_close windows are
// openTicks/closeTicks, given in 90 kHz PTS ticks.
func NewEventTracker(cameraID string, openTicks, closeTicks int64) *EventTracker {
	return &EventTracker{cameraID: cameraID, openTicks: openTicks, closeTicks: closeTicks}
}

// Observe feeds one sample's classification. At most one of opened/closed
// is non-nil per call.
func (t *EventTracker) Observe(pts int64, inMotion bool, ratio float64, mask []byte) (opened, closed *MotionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if inMotion {
		return t.observeMotion(pts, ratio, mask)
	}
	return nil, t.observeQuiescence(pts)
}

func (t *EventTracker) observeMotion(pts int64, ratio float64, mask []byte) (opened, closed *MotionEvent) {
	t.quiescentFrom = nil
	if t.runStart == nil {
		rs := pts
		t.runStart = &rs
		t.samplePeriod = 0
	} else if t.current == nil {
		// Track the gap between consecutive in-motion samples while still
		// accumulating toward D_open: runStart marks the first sample's
		// timestamp, not the start of its exposure window, so a run that
		// lasts exactly D_open spans only D_open minus one sample period.
		// Adding that period back lets a burst of exactly D_open duration
		// open on its last sample instead of never opening at all.
		t.samplePeriod = pts - t.lastMotionPTS
	}
	t.lastMotionPTS = pts

	if t.current == nil && pts-*t.runStart+t.samplePeriod >= t.openTicks {
		t.nextSeq++
		t.current = &MotionEvent{
			ID:       uuid.New(),
			Sequence: t.nextSeq,
			CameraID: t.cameraID,
			StartPTS: *t.runStart,
			EndPTS:   pts,
		}
		t.maxRatio = 0
		opened = t.current
	}

	if t.current != nil {
		t.current.EndPTS = pts
		if ratio > t.maxRatio {
			t.maxRatio = ratio
			t.current.MaskThumbnail = mask
		}
		t.current.Intensity = t.maxRatio
	}
	return opened, nil
}

func (t *EventTracker) observeQuiescence(pts int64) *MotionEvent {
	if t.current != nil {
		if t.quiescentFrom == nil {
			qf := pts
			t.quiescentFrom = &qf
		}
		if pts-*t.quiescentFrom < t.closeTicks {
			return nil
		}
		closed := t.current
		closed.EndPTS = t.lastMotionPTS
		t.current = nil
		t.runStart = nil
		t.quiescentFrom = nil
		return closed
	}

	// No event open: an in-progress run that never reached openTicks is
	// abandoned once it has been quiescent for openTicks itself, so a
	// single stray in-motion sample doesn't linger as a live candidate
	// forever.
	if t.runStart != nil {
		if t.quiescentFrom == nil {
			qf := pts
			t.quiescentFrom = &qf
		}
		if pts-*t.quiescentFrom >= t.openTicks {
			t.runStart = nil
			t.quiescentFrom = nil
		}
	}
	return nil
}

// IsOpen reports whether an event is currently open.
func (t *EventTracker) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}
