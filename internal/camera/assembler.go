package camera

import (
	"time"

	"github.com/camon/camon/internal/media"
	"github.com/camon/camon/internal/mpegts"
)

// H.264 and H.265/HEVC stream_type values, per the PMT elementary stream
// descriptor. The assembler only builds Frame records for whichever PID
// the PMT currently designates as carrying one of these.
const (
	streamTypeH264 = 0x1B
	streamTypeHEVC = 0x24
)

// Assembler turns mpegts.DemuxerData emitted by the Demuxer into ordered
// media.Frame records for a single camera. It tracks the PMT to find the
// video elementary PID and widens PTS across the 2^33 rollover.
type Assembler struct {
	videoPID  uint16
	haveVideo bool
	widener   media.Widener
	seq       uint64
}

// NewAssembler creates an Assembler for one camera's demux stream.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed consumes one DemuxerData unit. It returns a Frame and ok=true when
// the unit was a video PES with a usable PTS; PAT/PMT units, non-video PES,
// and PES lacking a PTS all return ok=false.
func (a *Assembler) Feed(dd *mpegts.DemuxerData) (*media.Frame, bool) {
	if dd.PMT != nil {
		a.updateVideoPID(dd.PMT)
		return nil, false
	}

	if dd.PES == nil || dd.FirstPacket == nil {
		return nil, false
	}

	if !a.haveVideo || dd.FirstPacket.Header.PID != a.videoPID {
		return nil, false
	}

	if dd.PES.Header == nil || dd.PES.Header.OptionalHeader == nil || dd.PES.Header.OptionalHeader.PTS == nil {
		return nil, false
	}

	pts := a.widener.Widen(dd.PES.Header.OptionalHeader.PTS.Base)
	a.seq++

	return &media.Frame{
		Payload:    dd.PES.Data,
		PTS:        pts,
		Arrival:    time.Now(),
		IsKeyframe: dd.RandomAccess,
		Sequence:   a.seq,
	}, true
}

func (a *Assembler) updateVideoPID(pmt *mpegts.PMTData) {
	for _, es := range pmt.ElementaryStreams {
		if es.StreamType == streamTypeH264 || es.StreamType == streamTypeHEVC {
			a.videoPID = es.ElementaryPID
			a.haveVideo = true
			return
		}
	}
}
