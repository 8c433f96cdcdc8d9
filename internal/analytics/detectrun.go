package analytics

import (
	"context"

	"github.com/google/uuid"
)

// segmentDetections is the per-segment outcome of detectSegment: the
// distinct classes found, each one's confidence, and a representative
// full-frame JPEG.
type segmentDetections struct {
	confidenceByClass map[string]float64
	frameJPEG         []byte
}

// runSampledDetections groups contiguous in-motion GOPs into runs and
// hands each run to detectRun, so a long run whose boundary samples agree
// is classified twice rather than once per GOP.
func (s *Sampler) runSampledDetections(ctx context.Context, triggered []motionSample) {
	for _, run := range groupContiguousRuns(triggered) {
		s.detectRun(ctx, run)
	}
}

func groupContiguousRuns(samples []motionSample) [][]motionSample {
	var runs [][]motionSample
	for _, sm := range samples {
		if len(runs) == 0 || samples0Seq(runs[len(runs)-1]) != sm.seq-1 {
			runs = append(runs, []motionSample{sm})
			continue
		}
		last := len(runs) - 1
		runs[last] = append(runs[last], sm)
	}
	return runs
}

func samples0Seq(run []motionSample) int64 {
	return run[len(run)-1].seq
}

// detectRun implements the boundary-agreement propagation strategy: short
// runs are classified sample-by-sample; longer runs only classify the
// first and last sample, propagating the result to the samples between
// them when the two boundaries agree on the class set, and bisecting
// recursively when they disagree.
func (s *Sampler) detectRun(ctx context.Context, run []motionSample) {
	n := len(run)
	if n == 0 {
		return
	}
	if n <= 2 {
		for _, sm := range run {
			if sd, ok := s.detectSegment(ctx, sm); ok {
				s.emitDetections(sm, sd)
			}
		}
		return
	}

	first, firstOK := s.detectSegment(ctx, run[0])
	last, lastOK := s.detectSegment(ctx, run[n-1])

	if firstOK && lastOK && sameClassSet(first, last) {
		s.emitDetections(run[0], first)
		s.emitDetections(run[n-1], last)

		mid := n / 2
		for i := 1; i < n-1; i++ {
			nearest := first
			if i > mid {
				nearest = last
			}
			propagated := segmentDetections{
				confidenceByClass: minConfidences(first, last),
				frameJPEG:         nearest.frameJPEG,
			}
			s.emitDetections(run[i], propagated)
			s.log.Debug("detection propagated from boundary", "pts", run[i].pts)
		}
		return
	}

	if firstOK {
		s.emitDetections(run[0], first)
	}
	if lastOK {
		s.emitDetections(run[n-1], last)
	}

	inner := run[1 : n-1]
	if len(inner) == 0 {
		return
	}
	mid := len(inner) / 2
	s.detectRun(ctx, inner[:mid])
	s.detectRun(ctx, inner[mid:])
}

func sameClassSet(a, b segmentDetections) bool {
	if len(a.confidenceByClass) != len(b.confidenceByClass) {
		return false
	}
	for class := range a.confidenceByClass {
		if _, ok := b.confidenceByClass[class]; !ok {
			return false
		}
	}
	return true
}

func minConfidences(a, b segmentDetections) map[string]float64 {
	out := make(map[string]float64, len(a.confidenceByClass))
	for class, ca := range a.confidenceByClass {
		cb := b.confidenceByClass[class]
		if cb < ca {
			out[class] = cb
		} else {
			out[class] = ca
		}
	}
	return out
}

func (s *Sampler) emitDetections(sm motionSample, sd segmentDetections) {
	for class, conf := range sd.confidenceByClass {
		s.detections <- &Detection{
			ID:         uuid.New(),
			PTS:        sm.pts,
			ClassName:  class,
			Confidence: conf,
			FrameJPEG:  sd.frameJPEG,
		}
	}
}

// detectSegment decodes sm at crop resolution, crops to the motion
// bounding box (falling back to a center crop if the box doesn't fit the
// detection window), and runs the object detector on the first frame that
// yields any surviving detection.
func (s *Sampler) detectSegment(ctx context.Context, sm motionSample) (segmentDetections, bool) {
	if s.cropDec == nil || s.object == nil {
		return segmentDetections{}, false
	}

	frames := s.cropDec.decodeSegment(sm.data, sm.duration)
	for _, frame := range frames {
		rect, ok := cropRegion(sm.bbox)
		if !ok {
			rect = centeredDetectionRect()
		}
		cropped := cropRGB(frame, rect)

		raw, err := s.object.Detect(ctx, cropped, rect.Dx(), rect.Dy())
		if err != nil || len(raw) == 0 {
			continue
		}

		byClass := make(map[string]float64, len(raw))
		for _, d := range raw {
			if cur, ok := byClass[d.ClassName]; !ok || d.Confidence > cur {
				byClass[d.ClassName] = d.Confidence
			}
		}
		return segmentDetections{
			confidenceByClass: byClass,
			frameJPEG:         encodeRGBJPEG(frame, cropWidth, cropHeight),
		}, true
	}
	return segmentDetections{}, false
}
