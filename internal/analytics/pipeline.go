// Package analytics implements the per-camera motion and object-detection
// sampler that reads GOPs out of the Hot Buffer, scores them for motion,
// and raises MotionEvent/Detection records for the Warm Flusher.
package analytics

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/camon/camon/internal/hotbuffer"
	"github.com/camon/camon/internal/media"
)

const (
	pollInterval = 200 * time.Millisecond

	// degradeStreak is how many consecutive over/under-budget samples are
	// required before the effective sample rate halves/doubles.
	degradeStreak = 3
	maxMultiplier = 8

	decoderRestartBackoff = 5 * time.Second
)

// Sampler runs motion detection (and, when enabled, object detection) for
// one camera's Hot Buffer, driving decoded frames through the process-based
// decoder and detector rather than in-process OpenCV/ORT bindings.
type Sampler struct {
	cameraID string
	cfg      Config
	buffer   *hotbuffer.Buffer
	log      *slog.Logger

	sampleDec *frameDecoder
	cropDec   *frameDecoder
	detector  *Detector
	histogram *ScoreHistogram
	tracker   *EventTracker
	object    ObjectDetector

	events     chan<- *MotionEvent
	detections chan<- *Detection

	lastSeq int64

	// graceful degradation state
	latencyEMA  time.Duration
	overStreak  int
	underStreak int
	multiplier  int
	skipCounter int
}

// NewSampler constructs a Sampler and spawns its decoder processes.
func NewSampler(cameraID string, cfg Config, buffer *hotbuffer.Buffer, events chan<- *MotionEvent, detections chan<- *Detection, log *slog.Logger) (*Sampler, error) {
	sampleDec, err := newSampleDecoder(cfg.SampleFPS)
	if err != nil {
		return nil, err
	}

	var cropDec *frameDecoder
	var detector ObjectDetector
	if cfg.ObjectDetection.Enabled {
		cropDec, err = newCropDecoder(cfg.SampleFPS)
		if err != nil {
			sampleDec.close()
			return nil, err
		}
		detector = NewProcessObjectDetector(cfg.ObjectDetection.ModelPath, cfg.ObjectDetection.ConfidenceThreshold, cfg.ObjectDetection.Classes)
	}

	openTicks := int64(cfg.OpenDelay.Seconds() * ptsPerSecond)
	closeTicks := int64(cfg.CloseDelay.Seconds() * ptsPerSecond)

	return &Sampler{
		cameraID:   cameraID,
		cfg:        cfg,
		buffer:     buffer,
		log:        log.With("component", "analytics", "camera", cameraID),
		sampleDec:  sampleDec,
		cropDec:    cropDec,
		detector:   NewDetector(analysisWidth, analysisHeight, cfg.Zones),
		histogram:  NewScoreHistogram(cfg.HistogramWindow, cfg.MotionPercentile, cfg.MinMotionRatio),
		tracker:    NewEventTracker(cameraID, openTicks, closeTicks),
		object:     detector,
		events:     events,
		detections: detections,
		lastSeq:    -1,
		multiplier: 1,
	}, nil
}

// Run polls the Hot Buffer for new GOPs until ctx is canceled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.restartDecodersIfDead()
			s.processNewSegments(ctx)
		}
	}
}

func (s *Sampler) restartDecodersIfDead() {
	if !s.sampleDec.isAlive() {
		s.log.Warn("sample decoder died, restarting")
		if d, err := newSampleDecoder(s.cfg.SampleFPS); err == nil {
			s.sampleDec = d
		} else {
			s.log.Error("failed to restart sample decoder", "error", err)
			time.Sleep(decoderRestartBackoff)
		}
	}
	if s.cropDec != nil && !s.cropDec.isAlive() {
		s.log.Warn("crop decoder died, restarting")
		if d, err := newCropDecoder(s.cfg.SampleFPS); err == nil {
			s.cropDec = d
		}
	}
}

// motionSample is one GOP that scored above the adaptive threshold,
// carried forward into the object-detection batch.
type motionSample struct {
	seq      int64
	data     []byte
	pts      int64
	duration int64
	bbox     image.Rectangle
}

func (s *Sampler) processNewSegments(ctx context.Context) {
	segs, newest := s.buffer.PollNew(s.lastSeq)
	s.lastSeq = newest

	var triggered []motionSample
	for _, seg := range segs {
		s.skipCounter++
		if s.skipCounter < s.multiplier {
			continue
		}
		s.skipCounter = 0

		data := concatPayloads(seg.Gop)
		start := time.Now()
		samples := s.analyzeSegment(data, seg.Gop.FirstPTS, seg.Gop.DurationTicks())
		s.recordLatency(time.Since(start))

		var gopTriggered bool
		var bestScore Score
		for _, samp := range samples {
			s.histogram.Record(samp.score.Ratio)
			threshold := s.histogram.Threshold()
			inMotion := samp.score.Ratio >= threshold

			var maskJPEG []byte
			if samp.score.Mask != nil {
				maskJPEG = encodeGrayJPEG(samp.score.Mask, analysisWidth, analysisHeight)
			}
			opened, closed := s.tracker.Observe(samp.pts, inMotion, samp.score.Ratio, maskJPEG)
			if opened != nil {
				s.log.Debug("motion event opened", "sequence", opened.Sequence, "start_pts", opened.StartPTS)
			}
			if closed != nil {
				s.log.Debug("motion event closed", "sequence", closed.Sequence, "intensity", closed.Intensity)
				s.events <- closed
			}

			if inMotion {
				gopTriggered = true
				if samp.score.Ratio > bestScore.Ratio {
					bestScore = samp.score
				}
			}
		}

		if gopTriggered && s.object != nil {
			triggered = append(triggered, motionSample{seq: seg.Seq, data: data, pts: seg.Gop.FirstPTS, duration: seg.Gop.DurationTicks(), bbox: bestScore.BBox})
		}
	}

	if len(triggered) > 0 {
		s.runSampledDetections(ctx, triggered)
	}
}

// sampleScore pairs one decoded sample's motion score with the PTS it was
// decoded at, so the caller can drive the event tracker at the sampler's
// actual per-frame rate instead of once per GOP.
type sampleScore struct {
	pts   int64
	score Score
}

func (s *Sampler) analyzeSegment(data []byte, gopFirstPTS, durationTicks int64) []sampleScore {
	frames := s.sampleDec.decodeSegment(data, durationTicks)
	if len(frames) == 0 {
		return nil
	}

	periodTicks := int64(ptsPerSecond / maxInt(s.cfg.SampleFPS, 1))
	out := make([]sampleScore, len(frames))
	for i, f := range frames {
		out[i] = sampleScore{
			pts:   gopFirstPTS + int64(i)*periodTicks,
			score: s.detector.Score(f),
		}
	}
	return out
}

func (s *Sampler) recordLatency(d time.Duration) {
	const alpha = 0.2
	if s.latencyEMA == 0 {
		s.latencyEMA = d
	} else {
		s.latencyEMA = time.Duration(alpha*float64(d) + (1-alpha)*float64(s.latencyEMA))
	}

	budget := time.Second / time.Duration(maxInt(s.cfg.SampleFPS, 1))
	if s.latencyEMA > budget {
		s.overStreak++
		s.underStreak = 0
		if s.overStreak >= degradeStreak {
			s.overStreak = 0
			if s.multiplier < maxMultiplier {
				s.multiplier *= 2
				s.log.Info("analytics falling behind budget, halving effective sample rate", "multiplier", s.multiplier)
			}
		}
	} else {
		s.underStreak++
		s.overStreak = 0
		if s.underStreak >= degradeStreak {
			s.underStreak = 0
			if s.multiplier > 1 {
				s.multiplier /= 2
				s.log.Info("analytics recovered budget, restoring sample rate", "multiplier", s.multiplier)
			}
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// concatPayloads byte-concatenates a GOP's access units in order, forming
// a raw H.264 elementary stream suitable for `-f h264` decoding.
func concatPayloads(g media.Gop) []byte {
	total := 0
	for _, f := range g.Frames {
		total += len(f.Payload)
	}
	out := make([]byte, 0, total)
	for _, f := range g.Frames {
		out = append(out, f.Payload...)
	}
	return out
}
