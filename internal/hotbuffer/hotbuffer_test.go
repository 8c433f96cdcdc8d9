package hotbuffer

import (
	"errors"
	"testing"

	"github.com/camon/camon/internal/media"
)

func frame(pts int64, key bool) *media.Frame {
	return &media.Frame{PTS: pts, IsKeyframe: key, Payload: []byte{0x00}}
}

// pushGOP pushes a keyframe followed by count-1 delta frames, each spaced
// stepTicks apart, starting at startPTS.
func pushGOP(t *testing.T, b *Buffer, startPTS int64, count int, stepTicks int64) int64 {
	t.Helper()
	pts := startPTS
	for i := 0; i < count; i++ {
		if err := b.Push(frame(pts, i == 0)); err != nil {
			t.Fatalf("Push(%d): %v", pts, err)
		}
		pts += stepTicks
	}
	return pts
}

func TestBuffer_DropsNonKeyframePrefix(t *testing.T) {
	b := New(90000 * 10)
	if err := b.Push(frame(1000, false)); err != nil {
		t.Fatal(err)
	}
	if b.GopCount() != 0 {
		t.Fatalf("GopCount = %d, want 0 (prefix dropped, no closing keyframe yet)", b.GopCount())
	}
}

func TestBuffer_NonMonotonicPTSRejected(t *testing.T) {
	b := New(90000 * 10)
	pushGOP(t, b, 0, 3, 3000)
	err := b.Push(frame(1000, false))
	if !errors.Is(err, ErrNonMonotonicPTS) {
		t.Fatalf("err = %v, want ErrNonMonotonicPTS", err)
	}
}

func TestBuffer_EvictsOldGOPsPastMaxDuration(t *testing.T) {
	// Cap at 60000 ticks (2 GOPs worth); each keyframe below starts a new
	// 30000-tick GOP.
	b := New(60000)
	if err := b.Push(frame(0, true)); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		if err := b.Push(frame(int64(i)*30000, true)); err != nil {
			t.Fatal(err)
		}
	}
	if b.SpanTicks() > 60000 {
		t.Errorf("SpanTicks = %d, want <= 60000 after eviction", b.SpanTicks())
	}
}

func TestBuffer_GopContaining(t *testing.T) {
	b := New(90000 * 100)
	pushGOP(t, b, 0, 3, 3000)      // gop0: 0,3000,6000
	pushGOP(t, b, 9000, 3, 3000)   // gop1: 9000,12000,15000
	pushGOP(t, b, 18000, 3, 3000)  // gop2: 18000,21000,24000

	g, ok := b.GopContaining(10000)
	if !ok {
		t.Fatal("expected a GOP containing pts=10000")
	}
	if g.FirstPTS != 9000 {
		t.Errorf("FirstPTS = %d, want 9000", g.FirstPTS)
	}
}

func TestBuffer_SnapshotGOPsSnapsToBoundaries(t *testing.T) {
	b := New(90000 * 100)
	pushGOP(t, b, 0, 3, 3000)
	pushGOP(t, b, 9000, 3, 3000)
	pushGOP(t, b, 18000, 3, 3000)
	// A further keyframe commits the third GOP.
	if err := b.Push(frame(27000, true)); err != nil {
		t.Fatal(err)
	}

	frames, err := b.SnapshotGOPs(10000, 19000)
	if err != nil {
		t.Fatalf("SnapshotGOPs: %v", err)
	}
	// should include all of gop1 (9000-15000) and all of gop2 (18000-24000)
	if len(frames) != 6 {
		t.Fatalf("got %d frames, want 6 (two full GOPs)", len(frames))
	}
	if frames[0].PTS != 9000 {
		t.Errorf("first frame PTS = %d, want 9000 (snapped to GOP start)", frames[0].PTS)
	}
	if frames[len(frames)-1].PTS != 24000 {
		t.Errorf("last frame PTS = %d, want 24000 (snapped to GOP end)", frames[len(frames)-1].PTS)
	}
}

func TestBuffer_SnapshotGOPsEmptyReturnsNotFound(t *testing.T) {
	b := New(90000 * 100)
	if _, err := b.SnapshotGOPs(0, 1000); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBuffer_LatestLiveWindow(t *testing.T) {
	b := New(90000 * 100)
	pushGOP(t, b, 0, 2, 3000)
	pushGOP(t, b, 6000, 2, 3000)
	pushGOP(t, b, 12000, 2, 3000)
	// A further keyframe commits the third GOP.
	if err := b.Push(frame(18000, true)); err != nil {
		t.Fatal(err)
	}

	frames := b.LatestLiveWindow(2)
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4 (last 2 GOPs x 2 frames)", len(frames))
	}
	if frames[0].PTS != 6000 {
		t.Errorf("first frame PTS = %d, want 6000", frames[0].PTS)
	}
}

func TestBuffer_RetainUntilDefersEviction(t *testing.T) {
	b := New(30000) // cap: 1 GOP's worth

	// The keyframe at 30000 commits GOP 0 so it can be pinned.
	pushGOP(t, b, 0, 1, 0)
	pushGOP(t, b, 30000, 1, 0)
	pin, err := b.RetainUntil(0)
	if err != nil {
		t.Fatalf("RetainUntil: %v", err)
	}

	// Committing the GOPs at 30000 and 60000 takes the span to 60000 ticks,
	// past the cap; unpinned, GOP 0 would now be evicted.
	pushGOP(t, b, 60000, 1, 0)
	pushGOP(t, b, 70000, 1, 0)
	if _, ok := b.GopContaining(0); !ok {
		t.Fatal("pinned GOP was evicted")
	}
	if pin.Evicted() {
		t.Fatal("pin should not be marked evicted below the hard cap")
	}
}

func TestBuffer_PinDefersEvictionUntilHardCap(t *testing.T) {
	b := New(30000) // max 30000 ticks; hard cap 60000 ticks

	// First GOP establishes the pinned range; the keyframe at 30000 commits it.
	if err := b.Push(frame(0, true)); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(frame(30000, true)); err != nil {
		t.Fatal(err)
	}
	pin, err := b.RetainUntil(0)
	if err != nil {
		t.Fatalf("RetainUntil: %v", err)
	}

	// Push GOPs until span exceeds maxTicks but stays within hardCapTicks
	// (committed span 60000): the pinned first GOP must still be resident.
	if err := b.Push(frame(60000, true)); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(frame(70000, true)); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.GopContaining(0); !ok {
		t.Fatal("pinned GOP was evicted before the hard cap was reached")
	}
	if pin.Evicted() {
		t.Fatal("pin should not be marked evicted yet")
	}

	// Push past the hard cap (committed span 70000): the pin must be
	// forcibly invalidated and the oldest GOP evicted despite the pin.
	if err := b.Push(frame(100000, true)); err != nil {
		t.Fatal(err)
	}
	if !pin.Evicted() {
		t.Error("pin should have been forcibly invalidated past the hard cap")
	}
	if _, ok := b.GopContaining(0); ok {
		t.Error("oldest GOP should have been evicted past the hard cap")
	}
}

func TestBuffer_ReleaseAllowsEviction(t *testing.T) {
	b := New(30000)

	if err := b.Push(frame(0, true)); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(frame(30000, true)); err != nil {
		t.Fatal(err)
	}
	pin, err := b.RetainUntil(0)
	if err != nil {
		t.Fatal(err)
	}
	b.Release(pin)

	if err := b.Push(frame(60000, true)); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(frame(70000, true)); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.GopContaining(0); ok {
		t.Error("released pin's range should have been evicted normally")
	}
}

func TestBuffer_PollNewReturnsOnlyUnseenSegments(t *testing.T) {
	b := New(90000 * 100)
	pushGOP(t, b, 0, 2, 3000)
	pushGOP(t, b, 6000, 2, 3000)

	// The second GOP stays in progress until the next keyframe arrives, so
	// only the first is resident.
	segs, newest := b.PollNew(-1)
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if newest != segs[len(segs)-1].Seq {
		t.Errorf("newest = %d, want %d", newest, segs[len(segs)-1].Seq)
	}

	pushGOP(t, b, 12000, 2, 3000)
	segs2, newest2 := b.PollNew(newest)
	if len(segs2) != 1 {
		t.Fatalf("got %d segments on second poll, want 1", len(segs2))
	}
	if newest2 <= newest {
		t.Error("newest sequence should have advanced")
	}
}

func TestBuffer_SnapshotGOPsReportsEvictedPrefix(t *testing.T) {
	b := New(30000)
	pushGOP(t, b, 0, 1, 0)
	if err := b.Push(frame(30000, true)); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(frame(70000, true)); err != nil {
		t.Fatal(err)
	}
	// Committing the GOP at 70000 pushes the span past the cap and evicts GOP 0.
	if err := b.Push(frame(100000, true)); err != nil {
		t.Fatal(err)
	}

	_, err := b.SnapshotGOPs(0, 70000)
	if !errors.Is(err, ErrEvictedPrefix) {
		t.Fatalf("err = %v, want ErrEvictedPrefix", err)
	}
}

func TestBuffer_WindowReflectsResidentGOPs(t *testing.T) {
	b := New(90000 * 10)
	if _, _, ok := b.Window(); ok {
		t.Fatal("Window() ok = true on an empty buffer")
	}

	pushGOP(t, b, 0, 3, 3000)
	pushGOP(t, b, 90000, 2, 3000)

	// The second pushGOP's keyframe at 90000 commits the first GOP
	// (frames 0/3000/6000); its own frames stay in curFrames, uncommitted,
	// until a further keyframe arrives.
	first, last, ok := b.Window()
	if !ok {
		t.Fatal("Window() ok = false after pushing GOPs")
	}
	if first != 0 {
		t.Errorf("first = %d, want 0", first)
	}
	if last != 6000 {
		t.Errorf("last = %d, want 6000", last)
	}
}

func TestBuffer_ResidentBytesSumsCommittedGOPs(t *testing.T) {
	b := New(90000 * 10)
	if b.ResidentBytes() != 0 {
		t.Fatalf("ResidentBytes = %d, want 0 on an empty buffer", b.ResidentBytes())
	}

	pushGOP(t, b, 0, 3, 3000)     // 3 frames, 1 byte payload each
	pushGOP(t, b, 90000, 2, 3000) // commits the first GOP; its own frames stay uncommitted

	if got := b.ResidentBytes(); got != 3 {
		t.Errorf("ResidentBytes = %d, want 3", got)
	}
}
