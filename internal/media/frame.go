// Package media defines the Frame and Gop types that flow out of the TS
// Demuxer into the Hot Buffer, and the PTS widening logic that turns the
// 33-bit MPEG clock into a monotonically increasing 64-bit counter.
package media

import "time"

// Frame is a single access unit recovered from the TS Demuxer: opaque
// payload bytes plus the metadata the Hot Buffer and Analytics need.
type Frame struct {
	// Payload is the reassembled access unit. Opaque below the Demuxer;
	// no NAL-level parsing happens here.
	Payload []byte

	// PTS is the widened, monotonically extended 64-bit presentation
	// timestamp in 90 kHz ticks. See Widener.
	PTS int64

	// Arrival is the wall-clock time the frame was fully reassembled.
	Arrival time.Time

	// IsKeyframe is true iff any TS packet composing this frame carried
	// adaptation_field.random_access_indicator = 1.
	IsKeyframe bool

	// Sequence is strictly increasing and never reused within a camera's
	// lifetime.
	Sequence uint64
}

// Gop is a read-only, non-owning view over a run of frames starting with a
// keyframe up to (but not including) the next keyframe. It never owns the
// underlying frame slice; it is a derived index over the Hot Buffer.
type Gop struct {
	Frames   []*Frame
	FirstPTS int64
	LastPTS  int64
	// ByteSize is the sum of Frames[i].Payload length.
	ByteSize int
}

// NewGop computes a Gop view over frames, which must be non-empty and begin
// with a keyframe.
func NewGop(frames []*Frame) Gop {
	g := Gop{Frames: frames}
	if len(frames) == 0 {
		return g
	}
	g.FirstPTS = frames[0].PTS
	g.LastPTS = frames[len(frames)-1].PTS
	for _, f := range frames {
		g.ByteSize += len(f.Payload)
	}
	return g
}

// DurationTicks returns the GOP's PTS span in 90 kHz ticks.
func (g Gop) DurationTicks() int64 {
	if len(g.Frames) == 0 {
		return 0
	}
	return g.LastPTS - g.FirstPTS
}
