// Package warmstore implements the Warm Flusher and its TierIndex: closed
// MotionEvents and Detections are turned into padded PTS windows,
// overlapping windows are coalesced, and the resulting byte range is
// copied out of the Hot Buffer, re-muxed into a playable MPEG-TS file, and
// written atomically under the configured data directory.
package warmstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/camon/camon/internal/analytics"
	"github.com/camon/camon/internal/hotbuffer"
	"github.com/camon/camon/internal/mpegts"
)

// finalizeGrace is how long a pending window waits for a further
// overlapping trigger before it is written to disk.
//
// The original implementation observes a continuous stream of GOPs
// evicted from the hot ring and notices directly, in PTS time, when
// post-padding has elapsed with no further motion. This port's triggers
// arrive instead as discrete, already-closed MotionEvents and Detections
// with their padding windows fully computed up front, so there is no
// streaming signal to watch for "no more triggers are coming" — a short
// wall-clock grace period stands in for it, giving a near-simultaneous
// motion-then-detection pair a chance to coalesce into one file before the
// first is written.
const finalizeGrace = 2 * time.Second

// Trigger is a padded PTS window computed from one closed MotionEvent or
// Detection, ready to be coalesced and flushed.
type Trigger struct {
	CameraID string
	StartPTS int64
	EndPTS   int64
	Kind     TriggerKind
}

// TriggerFromMotionEvent pads a closed MotionEvent with the configured
// pre/post padding so the written clip includes context around the
// detected motion, not just the motion itself.
func TriggerFromMotionEvent(ev *analytics.MotionEvent, cfg Config) Trigger {
	return Trigger{
		CameraID: ev.CameraID,
		StartPTS: ev.StartPTS - ticksFromDuration(cfg.PrePadding),
		EndPTS:   ev.EndPTS + ticksFromDuration(cfg.PostPadding),
		Kind:     TriggerMovement,
	}
}

// TriggerFromDetection pads a single Detection, reaching further back for
// pre-context than a motion trigger since an object detection fires on a
// single frame rather than a sustained motion window.
func TriggerFromDetection(cameraID string, det *analytics.Detection, cfg Config) Trigger {
	return Trigger{
		CameraID: cameraID,
		StartPTS: det.PTS - ticksFromDuration(cfg.ObjectPrePadding),
		EndPTS:   det.PTS + ticksFromDuration(cfg.ObjectPostPadding),
		Kind:     TriggerObject,
	}
}

func ticksFromDuration(d time.Duration) int64 {
	return int64(d.Seconds() * ptsPerSecond)
}

// pendingWindow is the single in-flight, not-yet-written coalescing target
// for one camera.
type pendingWindow struct {
	startPTS, endPTS int64
	kind             TriggerKind
}

// overlaps reports whether t belongs to the same trigger kind and its
// window touches or overlaps w's, so the two can be merged into one write
// instead of producing overlapping clips.
func (w *pendingWindow) overlaps(t Trigger) bool {
	return w.kind == t.Kind && t.StartPTS <= w.endPTS && w.startPTS <= t.EndPTS
}

func (w *pendingWindow) merge(t Trigger) {
	if t.StartPTS < w.startPTS {
		w.startPTS = t.StartPTS
	}
	if t.EndPTS > w.endPTS {
		w.endPTS = t.EndPTS
	}
}

// Flusher is the Warm Flusher for a single camera.
type Flusher struct {
	cameraID string
	cfg      Config
	buf      *hotbuffer.Buffer
	index    *TierIndex
	log      *slog.Logger
	onResult func(wrote bool)
}

// OnResult registers fn to be called once per finalized window, with
// wrote=true for a successful write and wrote=false for a dropped or
// failed one. Intended for telemetry counters; nil is a valid no-op.
func (f *Flusher) OnResult(fn func(wrote bool)) {
	f.onResult = fn
}

func (f *Flusher) reportResult(wrote bool) {
	if f.onResult != nil {
		f.onResult(wrote)
	}
}

// NewFlusher creates a Flusher writing cameraID's segments under
// cfg.DataDir, reading byte ranges from buf and registering each written
// file in index.
func NewFlusher(cameraID string, cfg Config, buf *hotbuffer.Buffer, index *TierIndex, log *slog.Logger) *Flusher {
	if log == nil {
		log = slog.Default()
	}
	return &Flusher{
		cameraID: cameraID,
		cfg:      cfg,
		buf:      buf,
		index:    index,
		log:      log.With("component", "warm-flusher", "camera", cameraID),
	}
}

// Run consumes triggers until the channel closes or ctx is canceled,
// coalescing overlapping windows and flushing each finalized one to disk.
// It returns only after any pending window has been written, so an
// upstream shutdown can rely on the flusher finishing its in-flight write
// before the pipeline fully winds down.
func (f *Flusher) Run(ctx context.Context, triggers <-chan Trigger) error {
	var pending *pendingWindow

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	flush := func() {
		if pending == nil {
			return
		}
		w := *pending
		pending = nil
		f.writeSegment(w)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case t, ok := <-triggers:
			if !ok {
				flush()
				return nil
			}
			if pending != nil && pending.overlaps(t) {
				pending.merge(t)
			} else {
				flush()
				pending = &pendingWindow{startPTS: t.StartPTS, endPTS: t.EndPTS, kind: t.Kind}
			}
			stopTimer(timer)
			timer.Reset(finalizeGrace)

		case <-timer.C:
			flush()
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// writeSegment performs one end-to-end flush: pin, snapshot, mux, atomic
// write, index registration. Failures are logged and absorbed rather than
// propagated, so one bad write never takes down the flusher goroutine.
func (f *Flusher) writeSegment(w pendingWindow) {
	pin, err := f.buf.RetainUntil(w.startPTS)
	if err != nil {
		pin, err = f.buf.RetainUntil(w.endPTS)
		if err != nil {
			f.log.Warn("trigger window entirely outside hot buffer, dropping",
				"start_pts", w.startPTS, "end_pts", w.endPTS)
			f.reportResult(false)
			return
		}
	}
	defer f.buf.Release(pin)

	frames, err := f.buf.SnapshotGOPs(w.startPTS, w.endPTS)
	if err != nil && !errors.Is(err, hotbuffer.ErrEvictedPrefix) {
		f.log.Warn("snapshot failed", "error", err)
		f.reportResult(false)
		return
	}
	if len(frames) == 0 {
		f.reportResult(false)
		return
	}

	muxFrames := make([]mpegts.MuxFrame, len(frames))
	for i, fr := range frames {
		muxFrames[i] = mpegts.MuxFrame{PTS: fr.PTS, IsKeyframe: fr.IsKeyframe, Payload: fr.Payload}
	}
	data := mpegts.MuxSegment(muxFrames)

	startPTS := frames[0].PTS
	durationTicks := frames[len(frames)-1].PTS - startPTS
	durationMS := durationTicks * 1000 / ptsPerSecond

	dir := filepath.Join(f.cfg.DataDir, f.cameraID, w.kind.dirName())
	filename := fmt.Sprintf("%d_%d.ts", ticksToNanos(startPTS), durationMS)
	path := filepath.Join(dir, filename)

	if err := writeAtomic(dir, path, data); err != nil {
		f.log.Warn("write failed", "path", path, "error", err)
		f.reportResult(false)
		return
	}

	f.index.Insert(f.cameraID, WarmSegment{
		Path:       path,
		CameraID:   f.cameraID,
		StartPTS:   startPTS,
		DurationMS: durationMS,
		Kind:       w.kind,
		ByteSize:   int64(len(data)),
		WrittenAt:  time.Now(),
	})

	f.log.Info("wrote warm segment", "path", path, "frames", len(frames), "duration_ms", durationMS)
	f.reportResult(true)
}

// writeAtomic writes data to a temp sibling of path and renames it into
// place, so a crash mid-write never leaves a partial file at the final
// name.
func writeAtomic(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("warmstore: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".warmstore-tmp-*")
	if err != nil {
		return fmt.Errorf("warmstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("warmstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("warmstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("warmstore: rename temp file: %w", err)
	}
	return nil
}
