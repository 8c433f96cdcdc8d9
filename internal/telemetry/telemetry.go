// Package telemetry wires camon's per-camera Prometheus instrumentation.
// Unlike a single-tenant service, every metric here is labeled by camera so
// one process's /metrics scrape covers the whole fleet.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters, gauges, and histogram wired for camon's
// pipeline. Construct with New against a caller-owned registry so tests and
// multi-instance deployments never collide on the global default registry.
type Metrics struct {
	framesDemuxed         *prometheus.CounterVec
	corruptPacketsDropped *prometheus.CounterVec
	pesDiscontinuities    *prometheus.CounterVec
	reconnects            *prometheus.CounterVec

	hotBufferBytes *prometheus.GaugeVec
	hotBufferGOPs  *prometheus.GaugeVec

	warmSegmentsWritten *prometheus.CounterVec
	warmWriteFailures   *prometheus.CounterVec

	analyticsSampleLatency *prometheus.HistogramVec
	analyticsEffectiveFPS  *prometheus.GaugeVec
}

// New creates and registers camon's metrics against reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		framesDemuxed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camon_frames_demuxed_total",
			Help: "Total access units demuxed from the camera's MPEG-TS stream.",
		}, []string{"camera"}),
		corruptPacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camon_corrupt_packets_dropped_total",
			Help: "Total TS packets or sections dropped for lost sync or failed section/PES parsing (continuity-counter discards are not counted).",
		}, []string{"camera"}),
		pesDiscontinuities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camon_pes_discontinuities_total",
			Help: "Total PES continuity-counter discontinuities observed.",
		}, []string{"camera"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camon_source_reconnects_total",
			Help: "Total times the Source Runner relaunched a camera's decoder process.",
		}, []string{"camera"}),
		hotBufferBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camon_hot_buffer_bytes",
			Help: "Bytes currently resident in the camera's Hot Buffer.",
		}, []string{"camera"}),
		hotBufferGOPs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camon_hot_buffer_gop_count",
			Help: "Complete GOPs currently resident in the camera's Hot Buffer.",
		}, []string{"camera"}),
		warmSegmentsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camon_warm_segments_written_total",
			Help: "Total warm-tier segment files written.",
		}, []string{"camera"}),
		warmWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camon_warm_write_failures_total",
			Help: "Total warm-tier segment writes that failed.",
		}, []string{"camera"}),
		analyticsSampleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "camon_analytics_sample_latency_seconds",
			Help:    "Time spent processing one analytics sample frame.",
			Buckets: prometheus.DefBuckets,
		}, []string{"camera"}),
		analyticsEffectiveFPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camon_analytics_effective_sample_fps",
			Help: "Analytics sampler's actual achieved rate, after backpressure.",
		}, []string{"camera"}),
	}

	reg.MustRegister(
		m.framesDemuxed,
		m.corruptPacketsDropped,
		m.pesDiscontinuities,
		m.reconnects,
		m.hotBufferBytes,
		m.hotBufferGOPs,
		m.warmSegmentsWritten,
		m.warmWriteFailures,
		m.analyticsSampleLatency,
		m.analyticsEffectiveFPS,
	)

	return m
}

// FrameDemuxed records one access unit demuxed for camera.
func (m *Metrics) FrameDemuxed(camera string) {
	m.framesDemuxed.WithLabelValues(camera).Inc()
}

// CorruptPacketDropped records one TS packet dropped for camera.
func (m *Metrics) CorruptPacketDropped(camera string) {
	m.corruptPacketsDropped.WithLabelValues(camera).Inc()
}

// AddCorruptPacketsDropped advances the corrupt-packet counter by n,
// for callers that only observe a cumulative total via periodic polling
// (camera.Runner.Stats) rather than a per-event hook.
func (m *Metrics) AddCorruptPacketsDropped(camera string, n int64) {
	if n <= 0 {
		return
	}
	m.corruptPacketsDropped.WithLabelValues(camera).Add(float64(n))
}

// PESDiscontinuity records one PES continuity-counter discontinuity.
func (m *Metrics) PESDiscontinuity(camera string) {
	m.pesDiscontinuities.WithLabelValues(camera).Inc()
}

// Reconnect records one Source Runner decoder relaunch.
func (m *Metrics) Reconnect(camera string) {
	m.reconnects.WithLabelValues(camera).Inc()
}

// AddReconnects advances the reconnect counter by n, for callers that only
// observe a cumulative total via periodic polling.
func (m *Metrics) AddReconnects(camera string, n int64) {
	if n <= 0 {
		return
	}
	m.reconnects.WithLabelValues(camera).Add(float64(n))
}

// SetHotBufferBytes reports the camera's current resident Hot Buffer size.
func (m *Metrics) SetHotBufferBytes(camera string, bytes int64) {
	m.hotBufferBytes.WithLabelValues(camera).Set(float64(bytes))
}

// SetHotBufferGOPs reports the camera's current resident GOP count.
func (m *Metrics) SetHotBufferGOPs(camera string, count int) {
	m.hotBufferGOPs.WithLabelValues(camera).Set(float64(count))
}

// WarmSegmentWritten records one successful warm-tier write.
func (m *Metrics) WarmSegmentWritten(camera string) {
	m.warmSegmentsWritten.WithLabelValues(camera).Inc()
}

// WarmWriteFailure records one failed warm-tier write.
func (m *Metrics) WarmWriteFailure(camera string) {
	m.warmWriteFailures.WithLabelValues(camera).Inc()
}

// ObserveAnalyticsSampleLatency records how long one analytics sample took
// to process.
func (m *Metrics) ObserveAnalyticsSampleLatency(camera string, d time.Duration) {
	m.analyticsSampleLatency.WithLabelValues(camera).Observe(d.Seconds())
}

// SetAnalyticsEffectiveFPS reports the analytics sampler's achieved rate.
func (m *Metrics) SetAnalyticsEffectiveFPS(camera string, fps float64) {
	m.analyticsEffectiveFPS.WithLabelValues(camera).Set(fps)
}
