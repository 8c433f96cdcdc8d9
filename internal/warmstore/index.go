package warmstore

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const ptsPerSecond = 90000

// TierIndex is a per-camera, sorted-by-start-PTS index of warm segment
// files. It is rebuilt from disk on startup via Scan and kept current by
// Insert as the Flusher writes new segments. Grounded on
// original_source/src/storage/warm_index.rs's WarmEventIndex, translated
// from its RwLock-per-camera map into a single mutex guarding a map of
// slices (this port has far fewer cameras per process than warrants the
// original's per-camera lock striping).
type TierIndex struct {
	dataDir string

	mu      sync.RWMutex
	cameras map[string][]WarmSegment
}

// NewTierIndex creates an index rooted at dataDir. Call Scan per camera
// before serving reads so a restart picks up segments written before the
// crash.
func NewTierIndex(dataDir string) *TierIndex {
	return &TierIndex{dataDir: dataDir, cameras: make(map[string][]WarmSegment)}
}

// Scan rebuilds cameraID's entries from disk. Any file whose name or
// extension doesn't parse as {start_pts_ns}_{duration_ms}.ts is silently
// skipped, so crash recovery tolerates an unsynced partial tail left by a
// write that never reached its atomic rename.
func (idx *TierIndex) Scan(cameraID string) {
	var entries []WarmSegment
	for _, kind := range []TriggerKind{TriggerMovement, TriggerObject} {
		dir := filepath.Join(idx.dataDir, cameraID, kind.dirName())
		dirEntries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, de := range dirEntries {
			if de.IsDir() {
				continue
			}
			seg, ok := parseSegmentFilename(dir, cameraID, kind, de.Name())
			if !ok {
				continue
			}
			if info, err := de.Info(); err == nil {
				seg.ByteSize = info.Size()
				seg.WrittenAt = info.ModTime()
			}
			entries = append(entries, seg)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].StartPTS < entries[j].StartPTS })

	idx.mu.Lock()
	idx.cameras[cameraID] = entries
	idx.mu.Unlock()
}

func parseSegmentFilename(dir, cameraID string, kind TriggerKind, name string) (WarmSegment, bool) {
	if filepath.Ext(name) != ".ts" {
		return WarmSegment{}, false
	}
	stem := strings.TrimSuffix(name, ".ts")
	startStr, durStr, ok := strings.Cut(stem, "_")
	if !ok {
		return WarmSegment{}, false
	}
	startNS, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return WarmSegment{}, false
	}
	durMS, err := strconv.ParseInt(durStr, 10, 64)
	if err != nil {
		return WarmSegment{}, false
	}
	return WarmSegment{
		Path:       filepath.Join(dir, name),
		CameraID:   cameraID,
		StartPTS:   nanosToTicks(startNS),
		DurationMS: durMS,
		Kind:       kind,
	}, true
}

// Insert adds seg in sorted position by StartPTS.
func (idx *TierIndex) Insert(cameraID string, seg WarmSegment) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries := idx.cameras[cameraID]
	pos := sort.Search(len(entries), func(i int) bool { return entries[i].StartPTS >= seg.StartPTS })
	entries = append(entries, WarmSegment{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = seg
	idx.cameras[cameraID] = entries
}

// Query returns, in start-PTS order, every segment whose [StartPTS, EndPTS]
// range intersects [fromPTS, toPTS].
func (idx *TierIndex) Query(cameraID string, fromPTS, toPTS int64) []WarmSegment {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entries := idx.cameras[cameraID]
	start := sort.Search(len(entries), func(i int) bool { return entries[i].EndPTS() >= fromPTS })
	end := sort.Search(len(entries), func(i int) bool { return entries[i].StartPTS > toPTS })
	if start >= end {
		return nil
	}

	out := make([]WarmSegment, end-start)
	copy(out, entries[start:end])
	return out
}

// CameraIDs returns every camera the index currently tracks, in no
// particular order.
func (idx *TierIndex) CameraIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, 0, len(idx.cameras))
	for id := range idx.cameras {
		out = append(out, id)
	}
	return out
}

// EnforceRetention drops segments older than maxAge (wall-clock, by
// WrittenAt) and then, if the camera's total byte size still exceeds
// maxTotalBytes, drops the oldest remaining segments by StartPTS until it
// doesn't. Either bound may be disabled by passing <= 0. Returns the
// segments removed from the index; the caller is responsible for deleting
// the underlying files.
func (idx *TierIndex) EnforceRetention(cameraID string, maxAge time.Duration, maxTotalBytes int64) []WarmSegment {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries := idx.cameras[cameraID]
	var kept, removed []WarmSegment
	var total int64
	for _, seg := range entries {
		total += seg.ByteSize
	}

	now := time.Now()
	for _, seg := range entries {
		if maxAge > 0 && now.Sub(seg.WrittenAt) > maxAge {
			removed = append(removed, seg)
			total -= seg.ByteSize
			continue
		}
		kept = append(kept, seg)
	}

	if maxTotalBytes > 0 {
		i := 0
		for i < len(kept) && total > maxTotalBytes {
			removed = append(removed, kept[i])
			total -= kept[i].ByteSize
			i++
		}
		kept = kept[i:]
	}

	idx.cameras[cameraID] = kept
	return removed
}
