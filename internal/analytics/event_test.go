package analytics

import "testing"

const fps30GopTicks = ptsPerSecond / 30 // spacing between consecutive sample PTS at 30fps

func TestEventTracker_OpensOnlyAfterSustainedMotion(t *testing.T) {
	// D_open = 0.5s, D_close = 2s, mirroring spec.md's literal end-to-end
	// scenario: bursts at t=5s (0.5s), t=20s (3s), t=50s (0.1s, below open
	// threshold), expecting exactly two MotionEvents.
	tr := NewEventTracker("cam1", ptsPerSecond/2, 2*ptsPerSecond)

	var opens, closes []*MotionEvent

	observeBurst := func(startSec float64, durationSec float64) {
		start := int64(startSec * ptsPerSecond)
		end := start + int64(durationSec*ptsPerSecond)
		for pts := start; pts < end; pts += fps30GopTicks {
			o, c := tr.Observe(pts, true, 0.5, nil)
			if o != nil {
				opens = append(opens, o)
			}
			if c != nil {
				closes = append(closes, c)
			}
		}
	}
	observeQuiet := func(fromSec, toSec float64) {
		for pts := int64(fromSec * ptsPerSecond); pts < int64(toSec*ptsPerSecond); pts += fps30GopTicks {
			o, c := tr.Observe(pts, false, 0, nil)
			if o != nil {
				opens = append(opens, o)
			}
			if c != nil {
				closes = append(closes, c)
			}
		}
	}

	observeQuiet(0, 5)
	observeBurst(5, 0.5)
	observeQuiet(5.5, 20)
	observeBurst(20, 3)
	observeQuiet(23, 50)
	observeBurst(50, 0.1)
	observeQuiet(50.1, 60)

	if len(opens) != 2 {
		t.Fatalf("opens = %d, want 2 (third burst is below D_open duration)", len(opens))
	}
	if len(closes) != 2 {
		t.Fatalf("closes = %d, want 2", len(closes))
	}
}

func TestEventTracker_EndPTSIsLastMotionSampleNotGraceExtended(t *testing.T) {
	tr := NewEventTracker("cam1", ptsPerSecond/2, 2*ptsPerSecond)

	var closed *MotionEvent
	pts := int64(0)
	for ; pts < int64(1*ptsPerSecond); pts += fps30GopTicks {
		tr.Observe(pts, true, 0.5, nil)
	}
	lastMotionPTS := pts - fps30GopTicks

	for ; pts < int64(4*ptsPerSecond); pts += fps30GopTicks {
		_, c := tr.Observe(pts, false, 0, nil)
		if c != nil {
			closed = c
			break
		}
	}

	if closed == nil {
		t.Fatal("expected event to close")
	}
	if closed.EndPTS != lastMotionPTS {
		t.Fatalf("EndPTS = %d, want %d (last in-motion sample, not grace-extended)", closed.EndPTS, lastMotionPTS)
	}
}

func TestEventTracker_IntensityTracksMaxRatio(t *testing.T) {
	tr := NewEventTracker("cam1", ptsPerSecond/2, 2*ptsPerSecond)

	ratios := []float64{0.2, 0.6, 0.4}
	pts := int64(0)
	var opened *MotionEvent
	for _, r := range ratios {
		for i := 0; i < 20; i++ {
			o, _ := tr.Observe(pts, true, r, nil)
			if o != nil {
				opened = o
			}
			pts += fps30GopTicks
		}
	}
	if opened == nil {
		t.Fatal("expected event to open")
	}
	if tr.current.Intensity != 0.6 {
		t.Fatalf("Intensity = %v, want 0.6 (max ratio observed)", tr.current.Intensity)
	}
}

func TestEventTracker_IsOpenReflectsCurrentState(t *testing.T) {
	tr := NewEventTracker("cam1", ptsPerSecond/2, 2*ptsPerSecond)
	if tr.IsOpen() {
		t.Fatal("IsOpen() = true before any samples")
	}

	pts := int64(0)
	for ; pts < int64(1*ptsPerSecond); pts += fps30GopTicks {
		tr.Observe(pts, true, 0.5, nil)
	}
	if !tr.IsOpen() {
		t.Fatal("IsOpen() = false after sustained motion exceeding D_open")
	}
}
