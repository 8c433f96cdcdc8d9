// Package reader implements the Tiered Reader: it answers a PTS-range read
// by combining whatever is still resident in a camera's Hot Buffer with
// whatever the warm archive's TierIndex already has on disk, surfacing an
// explicit Gap wherever neither tier can cover the request.
package reader

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/camon/camon/internal/hotbuffer"
	"github.com/camon/camon/internal/mpegts"
	"github.com/camon/camon/internal/warmstore"
)

// Reader serves ReadRange across every registered camera. It never blocks a
// camera's writer: hot reads only ever take a retention pin (RetainUntil /
// Release), never the buffer's eviction path, and a pin is held for no
// longer than a single segment read.
type Reader struct {
	index *warmstore.TierIndex

	mu  sync.RWMutex
	hot map[string]*hotbuffer.Buffer
}

// New creates a Reader resolving warm segments through index. Camera hot
// buffers are registered individually via RegisterCamera as each camera's
// pipeline starts.
func New(index *warmstore.TierIndex) *Reader {
	return &Reader{index: index, hot: make(map[string]*hotbuffer.Buffer)}
}

// RegisterCamera associates cameraID's live Hot Buffer with the reader. A
// camera with no registered buffer is served purely from the warm tier.
func (r *Reader) RegisterCamera(cameraID string, buf *hotbuffer.Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hot[cameraID] = buf
}

func (r *Reader) hotBuffer(cameraID string) *hotbuffer.Buffer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hot[cameraID]
}

// ReadRange resolves [ptsStart, ptsEnd] for cameraID: a range fully inside
// the Hot Buffer's current window is served from hot alone; otherwise the
// warm archive covers everything up to the hot window's start, the hot
// tail covers the rest, and any stretch covered by neither is reported as
// a Gap rather than silently dropped.
func (r *Reader) ReadRange(cameraID string, ptsStart, ptsEnd int64) ([]Item, error) {
	if ptsEnd < ptsStart {
		return nil, fmt.Errorf("reader: %s: end %d precedes start %d", cameraID, ptsEnd, ptsStart)
	}

	buf := r.hotBuffer(cameraID)
	var hotFirst, hotLast int64
	var hotOK bool
	if buf != nil {
		hotFirst, hotLast, hotOK = buf.Window()
	}

	if hotOK && ptsStart >= hotFirst && ptsEnd <= hotLast {
		data, _, _, err := r.readHot(buf, ptsStart, ptsEnd)
		if err != nil {
			return nil, fmt.Errorf("reader: %s: %w", cameraID, err)
		}
		return []Item{{Data: data}}, nil
	}

	var items []Item
	cursor := ptsStart

	warmEnd := ptsEnd
	if hotOK && warmEnd >= hotFirst {
		warmEnd = hotFirst - 1
	}
	if r.index != nil && cursor <= warmEnd {
		for _, seg := range r.index.Query(cameraID, cursor, warmEnd) {
			if seg.StartPTS > cursor {
				items = append(items, Item{Gap: &Gap{PTSStart: cursor, PTSEnd: seg.StartPTS}})
			}
			data, err := os.ReadFile(seg.Path)
			if err != nil {
				items = append(items, Item{Gap: &Gap{PTSStart: cursor, PTSEnd: seg.EndPTS()}})
				cursor = seg.EndPTS()
				continue
			}
			items = append(items, Item{Data: data})
			cursor = seg.EndPTS()
		}
	}

	if cursor > ptsEnd {
		return items, nil
	}

	if hotOK && cursor < hotFirst {
		items = append(items, Item{Gap: &Gap{PTSStart: cursor, PTSEnd: hotFirst}})
		cursor = hotFirst
	}

	if !hotOK || cursor > hotLast {
		items = append(items, Item{Gap: &Gap{PTSStart: cursor, PTSEnd: ptsEnd}})
		return items, nil
	}

	data, gotFirst, _, err := r.readHot(buf, cursor, ptsEnd)
	if err != nil {
		items = append(items, Item{Gap: &Gap{PTSStart: cursor, PTSEnd: ptsEnd}})
		return items, nil
	}
	if gotFirst > cursor {
		items = append(items, Item{Gap: &Gap{PTSStart: cursor, PTSEnd: gotFirst}})
	}
	items = append(items, Item{Data: data})

	return items, nil
}

// readHot pins fromPTS, snapshots the GOPs covering [fromPTS, toPTS], and
// re-muxes them into a self-contained MPEG-TS byte stream so hot and warm
// Items share one wire format.
func (r *Reader) readHot(buf *hotbuffer.Buffer, fromPTS, toPTS int64) (data []byte, gotFirst, gotLast int64, err error) {
	pin, err := buf.RetainUntil(fromPTS)
	if err != nil {
		return nil, 0, 0, err
	}
	defer buf.Release(pin)

	frames, err := buf.SnapshotGOPs(fromPTS, toPTS)
	if err != nil && !errors.Is(err, hotbuffer.ErrEvictedPrefix) {
		return nil, 0, 0, err
	}
	if len(frames) == 0 {
		return nil, 0, 0, hotbuffer.ErrNotFound
	}

	muxFrames := make([]mpegts.MuxFrame, len(frames))
	for i, f := range frames {
		muxFrames[i] = mpegts.MuxFrame{PTS: f.PTS, IsKeyframe: f.IsKeyframe, Payload: f.Payload}
	}
	return mpegts.MuxSegment(muxFrames), frames[0].PTS, frames[len(frames)-1].PTS, nil
}

// HotGopWindow reports the PTS range currently resident in cameraID's Hot
// Buffer, for the list_cameras / hot_gop_window external interface.
func (r *Reader) HotGopWindow(cameraID string) (firstPTS, lastPTS int64, ok bool) {
	buf := r.hotBuffer(cameraID)
	if buf == nil {
		return 0, 0, false
	}
	return buf.Window()
}
