package warmstore

import "time"

// TriggerKind identifies which padding rule and on-disk subdirectory a
// warm segment belongs to.
type TriggerKind int

const (
	TriggerMovement TriggerKind = iota
	TriggerObject
)

func (k TriggerKind) dirName() string {
	if k == TriggerObject {
		return "objects"
	}
	return "movements"
}

// WarmSegment describes one immutable, already-written warm-tier file.
// Created by the Flusher; updated into a TierIndex on write and rebuilt
// from disk by TierIndex.Scan on startup.
type WarmSegment struct {
	Path       string
	CameraID   string
	StartPTS   int64 // 90 kHz ticks
	DurationMS int64
	Kind       TriggerKind
	ByteSize   int64
	WrittenAt  time.Time
}

// EndPTS is the last PTS tick covered by the segment.
func (s WarmSegment) EndPTS() int64 {
	return s.StartPTS + s.DurationMS*ptsPerSecond/1000
}

// ticksToNanos/nanosToTicks convert between the 90 kHz PTS domain and the
// nanosecond filename convention ({start_pts_ns}_{duration_ms}.ts).
func ticksToNanos(ticks int64) int64 {
	return ticks * 100000 / 9
}

func nanosToTicks(ns int64) int64 {
	return ns * 9 / 100000
}
