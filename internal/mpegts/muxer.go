package mpegts

// This file is the write-side counterpart to demuxer.go: it packetizes
// access units back into a self-contained, playable transport stream. The
// Hot Buffer stores bare access units (see media.Frame), so anything that
// persists a byte range to disk as a ".ts" file — the warm tier — has to
// reconstruct PAT/PMT/PES framing itself rather than replay original bytes.

const (
	patPID   uint16 = 0x0000
	pmtPID   uint16 = 0x1000
	videoPID uint16 = 0x0100

	programNumber  uint16 = 1
	h264StreamType uint8  = 0x1B

	tsPacketSize = 188
	tsSyncByte   = 0x47

	videoStreamID = 0xE0 // first video stream, per PES spec
)

// MuxFrame is the minimal per-access-unit input MuxSegment needs. It
// mirrors media.Frame's PTS/IsKeyframe/Payload fields without importing
// package media, keeping the write side decoupled from the Hot Buffer the
// way demuxer.go is decoupled from it on the read side.
type MuxFrame struct {
	PTS        int64
	IsKeyframe bool
	Payload    []byte
}

// muxState threads continuity counters across the whole segment so the
// output is a single coherent stream rather than per-frame islands.
type muxState struct {
	patCC uint8
	pmtCC uint8
	vidCC uint8
}

// MuxSegment packetizes frames into a complete, self-contained MPEG-TS
// byte stream: a PAT and PMT at the head (re-emitted every patRepeatFrames
// frames so mid-stream seeking in a player finds them quickly), followed by
// one PES packet per frame, each split across 188-byte TS packets. The
// first frame must be a keyframe; its PES packet's first TS packet carries
// random_access_indicator=1 and a PCR.
func MuxSegment(frames []MuxFrame) []byte {
	if len(frames) == 0 {
		return nil
	}

	var st muxState
	var out []byte

	out = append(out, buildPAT(&st)...)
	out = append(out, buildPMT(&st)...)

	const patRepeatFrames = 50
	for i, f := range frames {
		if i > 0 && i%patRepeatFrames == 0 {
			out = append(out, buildPAT(&st)...)
			out = append(out, buildPMT(&st)...)
		}
		out = append(out, packetizePES(&st, f)...)
	}
	return out
}

func buildPAT(st *muxState) []byte {
	section := []byte{
		0x00,       // table_id
		0xB0, 0x0D, // section_syntax_indicator=1, reserved, section_length=13
		0x00, 0x01, // transport_stream_id
		0xC1,       // reserved, version=0, current_next=1
		0x00, 0x00, // section_number, last_section_number
		byte(programNumber >> 8), byte(programNumber),
		0xE0 | byte(pmtPID>>8), byte(pmtPID&0xFF),
	}
	section = appendCRC32(section)
	return packetizeSection(st, &st.patCC, patPID, section)
}

func buildPMT(st *muxState) []byte {
	section := []byte{
		0x02,       // table_id
		0xB0, 0x12, // section_length=18
		byte(programNumber >> 8), byte(programNumber),
		0xC1,
		0x00, 0x00,
		0xE0 | byte(videoPID>>8), byte(videoPID&0xFF), // PCR_PID
		0xF0, 0x00, // program_info_length=0
		h264StreamType,
		0xE0 | byte(videoPID>>8), byte(videoPID&0xFF),
		0xF0, 0x00, // ES_info_length=0
	}
	section = appendCRC32(section)
	return packetizeSection(st, &st.pmtCC, pmtPID, section)
}

// packetizeSection wraps a PSI section in a single TS packet (sections this
// small never span packets): pointer_field=0, then the section, then
// 0xFF padding to fill out 188 bytes.
func packetizeSection(st *muxState, cc *uint8, pid uint16, section []byte) []byte {
	pkt := make([]byte, tsPacketSize)
	pkt[0] = tsSyncByte
	pkt[1] = 0x40 | byte(pid>>8) // payload_unit_start_indicator=1
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | (*cc & 0x0F) // no adaptation field, payload only
	*cc = (*cc + 1) & 0x0F

	pkt[4] = 0x00 // pointer_field
	copy(pkt[5:], section)
	for i := 5 + len(section); i < tsPacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// packetizePES wraps one access unit in a PES packet and splits it across
// as many TS packets as needed.
func packetizePES(st *muxState, f MuxFrame) []byte {
	pes := buildPESHeader(f.PTS, len(f.Payload))
	pes = append(pes, f.Payload...)

	var out []byte
	offset := 0
	first := true
	for offset < len(pes) {
		pkt := make([]byte, tsPacketSize)
		pkt[0] = tsSyncByte

		pusi := byte(0)
		if first {
			pusi = 0x40
		}
		pkt[1] = pusi | byte(videoPID>>8)
		pkt[2] = byte(videoPID & 0xFF)

		wantPCR := first && f.IsKeyframe
		rem := len(pes) - offset
		availNoAF := tsPacketSize - 4

		// afTotal is the adaptation field's total on-wire length, including
		// its own length byte. It is sized so the packet always comes out
		// to exactly 188 bytes: either 0 (payload fills the packet with no
		// room to spare), the minimum 8 bytes needed to carry a PCR, or
		// large enough to soak up whatever space the final, partial
		// payload chunk leaves unused.
		afTotal := 0
		switch {
		case wantPCR:
			afTotal = availNoAF - rem
			if afTotal < 8 {
				afTotal = 8
			}
		case rem < availNoAF:
			afTotal = availNoAF - rem
		}

		headerLen := 4 + afTotal
		if afTotal > 0 {
			pkt[3] = 0x30 | (st.vidCC & 0x0F) // adaptation field + payload
			writeAdaptationField(pkt[4:4+afTotal], afTotal, wantPCR, f.IsKeyframe, f.PTS)
		} else {
			pkt[3] = 0x10 | (st.vidCC & 0x0F) // payload only
		}
		st.vidCC = (st.vidCC + 1) & 0x0F

		avail := tsPacketSize - headerLen
		n := rem
		if n > avail {
			n = avail
		}

		copy(pkt[headerLen:], pes[offset:offset+n])
		offset += n
		first = false
		out = append(out, pkt...)
	}
	return out
}

// writeAdaptationField writes an adaptation field of exactly total bytes
// (including its own length byte) into buf. When withPCR is set the field
// carries a program_clock_reference and, for keyframes, the
// random_access_indicator; any remaining bytes are 0xFF stuffing.
func writeAdaptationField(buf []byte, total int, withPCR, keyframe bool, pts int64) {
	buf[0] = byte(total - 1)
	if total == 1 {
		return // length-only stuffing: a single zero-length adaptation field
	}

	flags := byte(0)
	next := 2
	if withPCR {
		flags |= 0x10 // PCR_flag
		if keyframe {
			flags |= 0x40 // random_access_indicator
		}
		writePCR(buf[2:8], pts)
		next = 8
	}
	buf[1] = flags
	for i := next; i < total; i++ {
		buf[i] = 0xFF
	}
}

// writePCR encodes pts (already in 90 kHz ticks) as a program_clock_reference:
// 33-bit base, 6 reserved bits, 9-bit extension (always 0 here, since the
// analytics pipeline and Hot Buffer only track the 90 kHz PTS clock, not a
// separate 27 MHz extension).
func writePCR(buf []byte, pts int64) {
	base := uint64(pts) & 0x1FFFFFFFF
	buf[0] = byte(base >> 25)
	buf[1] = byte(base >> 17)
	buf[2] = byte(base >> 9)
	buf[3] = byte(base >> 1)
	buf[4] = byte(base<<7) | 0x7E
	buf[5] = 0x00
}

// buildPESHeader builds a PES packet header (stream ID + optional header
// with PTS) for a video access unit of the given payload length.
func buildPESHeader(pts int64, payloadLen int) []byte {
	optional := encodePTSOnly(pts)

	pesPacketLength := len(optional) + payloadLen
	if pesPacketLength > 0xFFFF {
		pesPacketLength = 0 // unbounded length, legal for video PES
	}

	header := []byte{
		0x00, 0x00, 0x01, videoStreamID,
		byte(pesPacketLength >> 8), byte(pesPacketLength),
	}
	header = append(header, optional...)
	return header
}

// encodePTSOnly builds the PES optional header carrying only a PTS
// (no DTS — this port doesn't track decode-order reordering).
func encodePTSOnly(pts int64) []byte {
	flags := []byte{
		0x80,       // '10' marker + no scrambling/priority/alignment/copyright
		0x80,       // PTS_DTS_flags = '10' (PTS only)
		0x05,       // PES_header_data_length = 5 (one 33-bit timestamp)
	}
	ts := encodePTSBytes(0x02, pts) // '0010' prefix for PTS-only
	return append(flags, ts...)
}

// encodePTSBytes packs a 33-bit timestamp into the standard 5-byte PES
// timestamp encoding with the given 4-bit prefix (0x2 for PTS-only, 0x3 for
// PTS with DTS present).
func encodePTSBytes(prefix byte, pts int64) []byte {
	v := uint64(pts) & 0x1FFFFFFFF
	b := make([]byte, 5)
	b[0] = (prefix << 4) | byte((v>>29)&0x0E) | 0x01
	b[1] = byte(v >> 22)
	b[2] = byte((v>>14)&0xFE) | 0x01
	b[3] = byte(v >> 7)
	b[4] = byte((v<<1)&0xFE) | 0x01
	return b
}
