package camera

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestRunner_RunReturnsImmediatelyOnCanceledContext(t *testing.T) {
	r := NewRunner(Config{ID: "cam1"}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	if err == nil {
		t.Fatal("expected an error from an already-canceled context")
	}
}

func TestRunner_RunOnceFailsWithoutCommand(t *testing.T) {
	r := NewRunner(Config{ID: "cam1"}, nil, nil)
	err := r.runOnce(context.Background())
	if err == nil {
		t.Fatal("expected error when no command is configured")
	}
}

func TestStats_SnapshotReflectsCounters(t *testing.T) {
	r := NewRunner(Config{ID: "cam1"}, nil, nil)
	r.counters.recordRead(100)
	r.counters.recordRead(50)
	r.counters.framesDemuxed.Add(3)
	r.counters.corruptPacketCount.Add(1)
	r.counters.lastPTS.Store(90000)

	stats := r.Stats()
	if stats.BytesReceived != 150 {
		t.Errorf("BytesReceived = %d, want 150", stats.BytesReceived)
	}
	if stats.ReadCount != 2 {
		t.Errorf("ReadCount = %d, want 2", stats.ReadCount)
	}
	if stats.FramesDemuxed != 3 {
		t.Errorf("FramesDemuxed = %d, want 3", stats.FramesDemuxed)
	}
	if stats.CorruptPacketCount != 1 {
		t.Errorf("CorruptPacketCount = %d, want 1", stats.CorruptPacketCount)
	}
	if stats.LastPTS != 90000 {
		t.Errorf("LastPTS = %d, want 90000", stats.LastPTS)
	}
}

// TestStallWatcher_CancelsOnInactivity verifies the watchdog cancels its
// context when no Read() call has returned within the configured timeout.
func TestStallWatcher_CancelsOnInactivity(t *testing.T) {
	pr, _ := io.Pipe() // never written to: every Read blocks forever

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := &stallWatcher{r: pr, timeout: 40 * time.Millisecond, onStall: cancel}
	sw.start(ctx)

	select {
	case <-ctx.Done():
		// expected: watchdog fired
	case <-time.After(2 * time.Second):
		t.Fatal("stallWatcher did not cancel context within timeout")
	}
}

// TestStallWatcher_NoFalsePositiveOnActiveReads verifies the watchdog does
// not fire while Reads keep arriving within the timeout window.
func TestStallWatcher_NoFalsePositiveOnActiveReads(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := &stallWatcher{r: pr, timeout: 100 * time.Millisecond, onStall: cancel}
	sw.start(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			pw.Write([]byte{0x00})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	buf := make([]byte, 1)
	for i := 0; i < 5; i++ {
		if _, err := sw.Read(buf); err != nil {
			t.Fatal(err)
		}
	}
	<-done

	if ctx.Err() != nil {
		t.Error("context should not have been canceled while reads stayed active")
	}
}
