package analytics

import (
	"image"
	"testing"
)

func flatGray(width, height int, value byte) []byte {
	out := make([]byte, width*height)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestDetector_FirstSamplePrimesBackground(t *testing.T) {
	d := NewDetector(4, 4, nil)
	sc := d.Score(flatGray(4, 4, 100))
	if sc.Ratio != 0 {
		t.Fatalf("Ratio = %v, want 0 on priming sample", sc.Ratio)
	}
}

func TestDetector_ScoresForegroundAfterPriming(t *testing.T) {
	d := NewDetector(4, 4, nil)
	d.Score(flatGray(4, 4, 100))

	gray := flatGray(4, 4, 100)
	gray[5] = 200 // one pixel well past pixelDiffThreshold
	sc := d.Score(gray)

	if sc.Ratio <= 0 {
		t.Fatalf("Ratio = %v, want > 0 after a changed pixel", sc.Ratio)
	}
	if sc.Mask[5] != 0xFF {
		t.Fatalf("Mask[5] = %v, want 0xFF (foreground)", sc.Mask[5])
	}
	if sc.Mask[0] != 0 {
		t.Fatalf("Mask[0] = %v, want 0 (background)", sc.Mask[0])
	}
}

func TestDetector_IgnoreZoneSuppressesContribution(t *testing.T) {
	zones := []Zone{{Rect: image.Rect(0, 0, 4, 2), Sensitivity: 0}}
	d := NewDetector(4, 4, zones)
	d.Score(flatGray(4, 4, 100))

	gray := flatGray(4, 4, 100)
	gray[1] = 255 // inside the ignore zone (row 0)
	sc := d.Score(gray)

	if sc.Ratio != 0 {
		t.Fatalf("Ratio = %v, want 0 (only changed pixel is inside an ignore zone)", sc.Ratio)
	}
}

func TestDetector_RejectsWrongSizedSample(t *testing.T) {
	d := NewDetector(4, 4, nil)
	sc := d.Score(make([]byte, 3))
	if sc.Ratio != 0 || sc.Mask != nil {
		t.Fatalf("Score(wrong size) = %+v, want zero value", sc)
	}
}

func TestScoreHistogram_ThresholdUsesFloorBeforeFilled(t *testing.T) {
	h := NewScoreHistogram(10, 0.9, 0.05)
	if got := h.Threshold(); got != 0.05 {
		t.Fatalf("Threshold() on empty histogram = %v, want floor 0.05", got)
	}
}

func TestScoreHistogram_ThresholdTracksPercentile(t *testing.T) {
	h := NewScoreHistogram(10, 0.9, 0.0)
	for i := 1; i <= 10; i++ {
		h.Record(float64(i) / 10)
	}
	if h.Samples() != 10 {
		t.Fatalf("Samples() = %d, want 10", h.Samples())
	}
	got := h.Threshold()
	if got < 0.85 || got > 1.0 {
		t.Fatalf("Threshold() = %v, want near the 90th percentile of 0.1..1.0", got)
	}
}

func TestScoreHistogram_EvictsOldestPastCapacity(t *testing.T) {
	h := NewScoreHistogram(3, 0.5, 0.0)
	h.Record(0.1)
	h.Record(0.1)
	h.Record(0.1)
	h.Record(0.9) // evicts the first 0.1
	if h.Samples() != 3 {
		t.Fatalf("Samples() = %d, want 3 (capacity)", h.Samples())
	}
}

func TestScoreHistogram_FloorWinsOverLowPercentile(t *testing.T) {
	h := NewScoreHistogram(5, 0.9, 0.5)
	for i := 0; i < 5; i++ {
		h.Record(0.01)
	}
	if got := h.Threshold(); got != 0.5 {
		t.Fatalf("Threshold() = %v, want floor 0.5 to win over a low percentile", got)
	}
}
