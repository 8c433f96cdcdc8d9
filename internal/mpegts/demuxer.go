package mpegts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

// Demuxer reads MPEG-TS packets from a reader and produces DemuxerData
// containing parsed PAT, PMT, and PES payloads.
type Demuxer struct {
	ctx           context.Context
	br            *bufio.Reader
	readBuf       []byte
	pool          *packetPool
	programMap    *programMap
	dataBuffer    []*DemuxerData
	packetsParser PacketsParser
	onCorrupt     func(reason string)
	pktSize       int
	eof           bool
	eofData       []*DemuxerData
}

// NewDemuxer creates a new MPEG-TS demuxer reading from r.
func NewDemuxer(ctx context.Context, r io.Reader, opts ...func(*Demuxer)) *Demuxer {
	pm := newProgramMap()
	d := &Demuxer{
		ctx:        ctx,
		pktSize:    packetSize,
		programMap: pm,
		pool:       newPacketPool(pm),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.br = bufio.NewReaderSize(r, 8*d.pktSize)
	d.readBuf = make([]byte, d.pktSize)
	return d
}

// DemuxerOptPacketSize sets the TS packet size (default 188).
func DemuxerOptPacketSize(size int) func(*Demuxer) {
	return func(d *Demuxer) {
		d.pktSize = size
	}
}

// DemuxerOptPacketsParser sets a custom packet parser callback.
func DemuxerOptPacketsParser(p PacketsParser) func(*Demuxer) {
	return func(d *Demuxer) {
		d.packetsParser = p
	}
}

// DemuxerOptOnCorrupt registers a callback invoked when a packet fails the
// sync check ("sync_loss") or a flushed section/PES fails to parse
// ("bad_section"). Packets the accumulator discards on a continuity-counter
// discontinuity are not reported through it. Used to feed telemetry counters.
func DemuxerOptOnCorrupt(fn func(reason string)) func(*Demuxer) {
	return func(d *Demuxer) {
		d.onCorrupt = fn
	}
}

func (d *Demuxer) reportCorrupt(reason string) {
	if d.onCorrupt != nil {
		d.onCorrupt(reason)
	}
}

// NextData returns the next parsed unit from the stream. Returns io.EOF
// when all data has been consumed.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		// Drain buffered results first.
		if len(d.dataBuffer) > 0 {
			data := d.dataBuffer[0]
			d.dataBuffer = d.dataBuffer[1:]
			return data, nil
		}

		// Drain EOF results.
		if d.eof {
			if len(d.eofData) > 0 {
				data := d.eofData[0]
				d.eofData = d.eofData[1:]
				return data, nil
			}
			return nil, io.EOF
		}

		// Check context.
		if d.ctx.Err() != nil {
			return nil, d.ctx.Err()
		}

		// Read next packet.
		_, err := io.ReadFull(d.br, d.readBuf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.drainPool()
				continue
			}
			return nil, err
		}

		pkt, err := parsePacket(d.readBuf)
		if err != nil {
			// Sync byte lost: scan forward for a realigned offset where
			// sync recurs at pktSize intervals three times in a row.
			d.reportCorrupt("sync_loss")
			if rerr := d.resync(); rerr != nil {
				if errors.Is(rerr, io.EOF) {
					d.eof = true
					d.drainPool()
					continue
				}
				return nil, rerr
			}
			continue
		}

		flushed := d.pool.add(pkt)
		if flushed == nil {
			continue
		}

		results, err := d.processPackets(flushed)
		if err != nil {
			d.reportCorrupt("bad_section")
			continue // skip corrupt sections
		}
		if len(results) == 0 {
			continue
		}

		// Update program map from PAT results.
		for _, r := range results {
			if r.PAT != nil {
				for _, p := range r.PAT.Programs {
					d.programMap.addPMTPID(p.ProgramMapID)
				}
			}
		}

		d.dataBuffer = results[1:]
		return results[0], nil
	}
}

// resync scans forward from the current reader position for a byte offset
// where the sync byte recurs three times at pktSize intervals. It bounds
// the scan to avoid spinning forever on a non-MPEG-TS stream.
func (d *Demuxer) resync() error {
	const maxScanMultiplier = 256
	maxScan := d.pktSize * maxScanMultiplier
	need := d.pktSize*2 + 1

	for scanned := 0; scanned < maxScan; scanned++ {
		peek, err := d.br.Peek(need)
		if err != nil {
			// Not enough buffered data to fully verify — fall back to
			// locating any sync byte in what remains and accept it.
			for i, b := range peek {
				if b == syncByte {
					if _, derr := d.br.Discard(i); derr != nil {
						return derr
					}
					return nil
				}
			}
			if len(peek) == 0 {
				return io.EOF
			}
			if _, derr := d.br.Discard(len(peek)); derr != nil {
				return derr
			}
			continue
		}

		if peek[0] == syncByte && peek[d.pktSize] == syncByte && peek[2*d.pktSize] == syncByte {
			return nil
		}
		if _, derr := d.br.Discard(1); derr != nil {
			return derr
		}
	}

	return fmt.Errorf("mpegts: sync recovery failed after scanning %d bytes", maxScan)
}

func (d *Demuxer) drainPool() {
	for _, packets := range d.pool.dump() {
		results, err := d.processPackets(packets)
		if err != nil {
			continue
		}
		// Update program map from PAT results so subsequent PMT
		// PIDs are recognized as PSI during drain.
		for _, r := range results {
			if r.PAT != nil {
				for _, p := range r.PAT.Programs {
					d.programMap.addPMTPID(p.ProgramMapID)
				}
			}
		}
		d.eofData = append(d.eofData, results...)
	}
}

func (d *Demuxer) processPackets(packets []*Packet) ([]*DemuxerData, error) {
	if len(packets) == 0 {
		return nil, nil
	}

	firstPacket := packets[0]
	pid := firstPacket.Header.PID

	randomAccess := false
	for _, p := range packets {
		if p.Header.RandomAccessIndicator {
			randomAccess = true
			break
		}
	}

	// Custom parser callback.
	if d.packetsParser != nil {
		ds, skip, err := d.packetsParser(packets)
		if err != nil {
			return nil, err
		}
		if skip {
			return ds, nil
		}
	}

	// Concatenate payloads.
	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	// Route to appropriate parser.
	if isPSIPayload(pid, d.programMap) {
		return parsePSI(payload, pid, firstPacket, d.programMap)
	}

	if isPESPayload(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			return nil, err
		}
		return []*DemuxerData{{
			FirstPacket:  firstPacket,
			PES:          pes,
			RandomAccess: randomAccess,
		}}, nil
	}

	return nil, nil
}
