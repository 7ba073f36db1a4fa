// Package metrics exposes prometheus instrumentation for the streaming core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus collectors.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionsStopped   prometheus.Counter
	RecordingSessions prometheus.Gauge

	SegmentsAssembled prometheus.Counter
	SegmentBytes      prometheus.Counter

	ProcessExits *prometheus.CounterVec

	TimeshiftSegments prometheus.Gauge
	PortsInUse        prometheus.Gauge
}

// New registers all collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "protectstream_active_sessions",
			Help: "Number of currently streaming sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "protectstream_sessions_started_total",
			Help: "Total streaming sessions started",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "protectstream_sessions_stopped_total",
			Help: "Total streaming sessions stopped",
		}),
		RecordingSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "protectstream_recording_sessions",
			Help: "Number of active secure-video recording sessions",
		}),
		SegmentsAssembled: factory.NewCounter(prometheus.CounterOpts{
			Name: "protectstream_segments_assembled_total",
			Help: "fMP4 segments assembled from transcoder output",
		}),
		SegmentBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "protectstream_segment_bytes_total",
			Help: "Total bytes across assembled segments",
		}),
		ProcessExits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "protectstream_process_exits_total",
			Help: "Transcoder process exits by disposition",
		}, []string{"disposition"}),
		TimeshiftSegments: factory.NewGauge(prometheus.GaugeOpts{
			Name: "protectstream_timeshift_segments",
			Help: "Segments currently retained in the timeshift buffer",
		}),
		PortsInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "protectstream_rtp_ports_in_use",
			Help: "RTP ports currently reserved by sessions",
		}),
	}
}
