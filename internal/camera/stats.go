package camera

import (
	"sync/atomic"
	"time"
)

// Stats captures per-camera Source Runner metrics, exposed to telemetry and
// diagnostics. Mirrors the shape of an ingest connection's stats, adapted
// to describe a supervised child decoder process instead of a socket.
type Stats struct {
	BytesReceived      int64  `json:"bytesReceived"`
	ReadCount          int64  `json:"readCount"`
	FramesDemuxed      int64  `json:"framesDemuxed"`
	CorruptPacketCount int64  `json:"corruptPacketCount"`
	ReconnectCount     int64  `json:"reconnectCount"`
	ConnectedAt        int64  `json:"connectedAt"`
	UptimeMs           int64  `json:"uptimeMs"`
	LastPTS            int64  `json:"lastPts"`
	Command            string `json:"command"`
}

type counters struct {
	bytesReceived      atomic.Int64
	readCount          atomic.Int64
	framesDemuxed      atomic.Int64
	corruptPacketCount atomic.Int64
	reconnectCount     atomic.Int64
	connectedAt        atomic.Int64
	lastPTS            atomic.Int64
	command            atomic.Value
}

func (c *counters) recordRead(n int) {
	c.bytesReceived.Add(int64(n))
	c.readCount.Add(1)
}

func (c *counters) setConnected(t time.Time, command string) {
	c.connectedAt.Store(t.UnixMilli())
	c.command.Store(command)
}

func (c *counters) snapshot() Stats {
	connectedAt := c.connectedAt.Load()
	var uptime int64
	if connectedAt > 0 {
		uptime = time.Since(time.UnixMilli(connectedAt)).Milliseconds()
	}
	cmd, _ := c.command.Load().(string)
	return Stats{
		BytesReceived:      c.bytesReceived.Load(),
		ReadCount:          c.readCount.Load(),
		FramesDemuxed:      c.framesDemuxed.Load(),
		CorruptPacketCount: c.corruptPacketCount.Load(),
		ReconnectCount:     c.reconnectCount.Load(),
		ConnectedAt:        connectedAt,
		UptimeMs:           uptime,
		LastPTS:            c.lastPTS.Load(),
		Command:            cmd,
	}
}
