// Package hotbuffer implements the Hot Buffer: a bounded, time-based ring
// of GOPs held in memory per camera, with a single-writer/many-reader
// discipline and counted retention pins that let a reader protect a range
// from eviction without blocking the writer.
package hotbuffer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/camon/camon/internal/media"
)

// ErrEvictedPrefix is returned when a read's requested range overlaps a
// prefix that has already been evicted from the buffer.
var ErrEvictedPrefix = errors.New("hotbuffer: evicted prefix")

// ErrNotFound is returned when a PTS lookup falls entirely outside the
// buffer's resident window.
var ErrNotFound = errors.New("hotbuffer: not found")

// ErrNonMonotonicPTS is returned by Push when a frame's PTS does not
// strictly exceed the previously pushed frame's PTS.
var ErrNonMonotonicPTS = errors.New("hotbuffer: non-monotonic PTS")

// hardCapMultiple bounds how far total resident duration may exceed
// maxDurationTicks before pins protecting the head are forcibly
// invalidated. Chosen so a single slow reader can lag by a full retention
// window before being cut off.
const hardCapMultiple = 2

type gopEntry struct {
	seq int64
	gop media.Gop
}

// Pin is a retention handle obtained from RetainUntil. It must be released
// exactly once via Buffer.Release.
type Pin struct {
	id      uint64
	fromSeq int64
	evicted atomic.Bool
}

// Evicted reports whether the writer forcibly invalidated this pin's
// protected range because the hard cap was reached.
func (p *Pin) Evicted() bool {
	return p.evicted.Load()
}

// Buffer is the Hot Buffer for a single camera. The zero value is not
// usable; construct with New.
type Buffer struct {
	mu sync.RWMutex

	maxTicks     int64
	hardCapTicks int64

	gops      []gopEntry
	curFrames []*media.Frame
	nextSeq   int64

	started  bool
	lastPTS  int64
	totalLen int64 // resident span in ticks across gops only (curFrames excluded)

	pins      map[uint64]*Pin
	nextPinID uint64
}

// New creates a Hot Buffer retaining at most maxDurationTicks (a PTS span
// in 90 kHz ticks) of complete GOPs.
func New(maxDurationTicks int64) *Buffer {
	return &Buffer{
		maxTicks:     maxDurationTicks,
		hardCapTicks: maxDurationTicks * hardCapMultiple,
		pins:         make(map[uint64]*Pin),
	}
}

// Push appends a frame, closing the in-progress GOP and starting a new one
// when frame.IsKeyframe. Non-keyframe frames arriving before the buffer has
// seen its first keyframe are dropped, preserving the invariant that every
// stored GOP begins with a keyframe.
func (b *Buffer) Push(frame *media.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started && frame.PTS <= b.lastPTS {
		return ErrNonMonotonicPTS
	}

	if !frame.IsKeyframe && !b.started {
		return nil // trim non-keyframe prefix
	}

	if frame.IsKeyframe {
		b.closeCurrentLocked()
	}

	if len(b.curFrames) == 0 && !frame.IsKeyframe {
		// Should be unreachable given the started guard above, but keeps
		// the keyframe-prefix invariant airtight under future changes.
		return nil
	}

	b.curFrames = append(b.curFrames, frame)
	b.started = true
	b.lastPTS = frame.PTS

	b.evictLocked()
	return nil
}

func (b *Buffer) closeCurrentLocked() {
	if len(b.curFrames) == 0 {
		return
	}
	g := media.NewGop(b.curFrames)
	b.gops = append(b.gops, gopEntry{seq: b.nextSeq, gop: g})
	b.nextSeq++
	b.totalLen += g.DurationTicks()
	b.curFrames = nil
}

// evictLocked drops whole GOPs from the head while resident duration
// exceeds maxTicks, deferring eviction of a pinned prefix until either the
// pin clears or the hard cap is exceeded, in which case the pin is
// forcibly invalidated.
func (b *Buffer) evictLocked() {
	for len(b.gops) > 0 && b.spanLocked() > b.maxTicks {
		oldest := b.gops[0]

		if b.protectedLocked(oldest.seq) {
			if b.spanLocked() <= b.hardCapTicks {
				break // defer: let the pin clear naturally
			}
			b.invalidatePinsUpToLocked(oldest.seq)
		}

		b.totalLen -= oldest.gop.DurationTicks()
		b.gops = b.gops[1:]
	}
}

func (b *Buffer) spanLocked() int64 {
	if len(b.gops) == 0 {
		return 0
	}
	return b.gops[len(b.gops)-1].gop.LastPTS - b.gops[0].gop.FirstPTS
}

func (b *Buffer) protectedLocked(seq int64) bool {
	for _, p := range b.pins {
		if !p.Evicted() && p.fromSeq <= seq {
			return true
		}
	}
	return false
}

func (b *Buffer) invalidatePinsUpToLocked(seq int64) {
	for _, p := range b.pins {
		if p.fromSeq <= seq {
			p.evicted.Store(true)
		}
	}
}

// GopContaining returns the GOP whose PTS range covers pts, or ok=false.
func (b *Buffer) GopContaining(pts int64) (media.Gop, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	idx := b.indexContainingLocked(pts)
	if idx < 0 {
		return media.Gop{}, false
	}
	return b.gops[idx].gop, true
}

// indexContainingLocked returns the index of the GOP whose range contains
// pts, or the last GOP starting at or before pts, or -1.
func (b *Buffer) indexContainingLocked(pts int64) int {
	best := -1
	for i, ge := range b.gops {
		if ge.gop.FirstPTS <= pts {
			best = i
		}
		if ge.gop.FirstPTS <= pts && pts <= ge.gop.LastPTS {
			return i
		}
	}
	return best
}

// SnapshotGOPs returns frames within [fromPTS, toPTS], snapped outward to
// GOP boundaries: the start is the keyframe at or before fromPTS, the end
// is the last frame of the GOP containing toPTS. If fromPTS precedes the
// buffer's currently resident window, the returned frames are clamped to
// what remains and ErrEvictedPrefix is returned alongside them.
func (b *Buffer) SnapshotGOPs(fromPTS, toPTS int64) ([]*media.Frame, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.gops) == 0 {
		return nil, ErrNotFound
	}

	var evicted error
	if fromPTS < b.gops[0].gop.FirstPTS {
		evicted = ErrEvictedPrefix
		fromPTS = b.gops[0].gop.FirstPTS
	}

	startIdx := b.indexContainingLocked(fromPTS)
	if startIdx < 0 {
		startIdx = 0
	}
	endIdx := b.indexContainingLocked(toPTS)
	if endIdx < 0 {
		endIdx = len(b.gops) - 1
	}
	if endIdx < startIdx {
		return nil, ErrNotFound
	}

	var out []*media.Frame
	for i := startIdx; i <= endIdx; i++ {
		out = append(out, b.gops[i].gop.Frames...)
	}
	return out, evicted
}

// LatestLiveWindow returns the frames of the last k complete GOPs, for
// HLS-style live delivery. In-progress (not yet keyframe-closed) frames are
// never included.
func (b *Buffer) LatestLiveWindow(k int) []*media.Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if k <= 0 || len(b.gops) == 0 {
		return nil
	}
	start := len(b.gops) - k
	if start < 0 {
		start = 0
	}

	var out []*media.Frame
	for _, ge := range b.gops[start:] {
		out = append(out, ge.gop.Frames...)
	}
	return out
}

// RetainUntil pins the GOP containing pts (and everything after it) against
// eviction until Release is called, or until the hard cap forces it.
func (b *Buffer) RetainUntil(pts int64) (*Pin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexContainingLocked(pts)
	if idx < 0 {
		return nil, ErrNotFound
	}

	b.nextPinID++
	pin := &Pin{id: b.nextPinID, fromSeq: b.gops[idx].seq}
	b.pins[pin.id] = pin
	return pin, nil
}

// Release returns a pin's protected range to eviction eligibility. Safe to
// call even if the pin was already forcibly invalidated.
func (b *Buffer) Release(pin *Pin) {
	if pin == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pins, pin.id)
}

// Segment pairs a resident GOP with its buffer-assigned sequence number,
// for consumers (Analytics) that need to track which GOPs they have
// already processed across polls.
type Segment struct {
	Seq int64
	Gop media.Gop
}

// PollNew returns resident GOPs with sequence numbers greater than
// lastSeq, in ascending order, along with the newest sequence number
// observed (== lastSeq if nothing new is resident).
func (b *Buffer) PollNew(lastSeq int64) ([]Segment, int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	newest := lastSeq
	var out []Segment
	for _, ge := range b.gops {
		if ge.seq > lastSeq {
			out = append(out, Segment{Seq: ge.seq, Gop: ge.gop})
		}
		if ge.seq > newest {
			newest = ge.seq
		}
	}
	return out, newest
}

// Window returns the PTS range currently spanned by complete, resident
// GOPs. ok is false when the buffer holds no complete GOP yet.
func (b *Buffer) Window() (firstPTS, lastPTS int64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.gops) == 0 {
		return 0, 0, false
	}
	return b.gops[0].gop.FirstPTS, b.gops[len(b.gops)-1].gop.LastPTS, true
}

// ResidentBytes returns the total payload byte size across complete,
// resident GOPs.
func (b *Buffer) ResidentBytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int64
	for _, ge := range b.gops {
		total += int64(ge.gop.ByteSize)
	}
	return total
}

// GopCount returns the number of complete, resident GOPs.
func (b *Buffer) GopCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.gops)
}

// SpanTicks returns the current resident duration across complete GOPs, in
// 90 kHz ticks.
func (b *Buffer) SpanTicks() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.spanLocked()
}
