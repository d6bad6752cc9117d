package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	apiLatency           *prometheus.HistogramVec
	meetingSessions      prometheus.Gauge
	meetingEvents        *prometheus.CounterVec
	meetingDuration      prometheus.Histogram
	segments             *prometheus.CounterVec
	segmentBytes         prometheus.Counter
	merges               *prometheus.CounterVec
	mergeDuration        prometheus.Histogram
	encoderFallbacks     *prometheus.CounterVec
	collaboratorFailures *prometheus.CounterVec
	collaboratorCalls    *prometheus.CounterVec
	realtimeConnections  prometheus.Gauge
	realtimeBroadcasts   *prometheus.CounterVec
	realtimeFailures     *prometheus.CounterVec
	maintenanceRuns      *prometheus.CounterVec
	maintenanceDuration  *prometheus.HistogramVec
	maintenanceLastRun   *prometheus.GaugeVec
}

func newCollectors(namespace string) *collectors {
	buckets := prometheus.DefBuckets
	mergeBuckets := []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}
	meetingBuckets := []float64{
		60, 300, 600, 900, // minutes
		1800, 3600, 7200, 14400,
	}

	return &collectors{
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		meetingSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "meeting_sessions",
				Help:      "Meetings currently held in the session registry",
			},
		),
		meetingEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "meeting_events_total",
				Help:      "Meeting lifecycle events (join, leave, recording_started, recording_stopped, meeting_ended)",
			},
			[]string{"event"},
		),
		meetingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "meeting_duration_seconds",
				Help:      "Time from first join to meeting end",
				Buckets:   meetingBuckets,
			},
		),
		segments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_total",
				Help:      "Uploaded audio segments by outcome",
			},
			[]string{"result"},
		),
		segmentBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segment_bytes_total",
				Help:      "Bytes of accepted audio segments",
			},
		),
		merges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merges_total",
				Help:      "Merge attempts by result (success, failure, noop)",
			},
			[]string{"result"},
		),
		mergeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "merge_duration_seconds",
				Help:      "Duration of merges that did encoder work",
				Buckets:   mergeBuckets,
			},
		),
		encoderFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "encoder_fallbacks_total",
				Help:      "Encoder operations retried with the fallback codec, by outcome",
			},
			[]string{"operation", "result"},
		),
		collaboratorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collaborator_failures_total",
				Help:      "Failed calls to external collaborators",
			},
			[]string{"collaborator"},
		),
		collaboratorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collaborator_calls_total",
				Help:      "Calls to external collaborators by result",
			},
			[]string{"collaborator", "result"},
		),
		realtimeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_connections",
				Help:      "Active realtime websocket connections",
			},
		),
		realtimeBroadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_broadcasts_total",
				Help:      "Events fanned out to meeting participants",
			},
			[]string{"event"},
		),
		realtimeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_failures_total",
				Help:      "Realtime delivery or protocol failures",
			},
			[]string{"event", "type"},
		),
		maintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_runs_total",
				Help:      "Maintenance job executions",
			},
			[]string{"job", "result"},
		),
		maintenanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_duration_seconds",
				Help:      "Maintenance job duration",
				Buckets:   buckets,
			},
			[]string{"job"},
		),
		maintenanceLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "maintenance_last_success_timestamp",
				Help:      "Timestamp of the last successful maintenance run (seconds since epoch)",
			},
			[]string{"job"},
		),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.apiLatency,
		c.meetingSessions,
		c.meetingEvents,
		c.meetingDuration,
		c.segments,
		c.segmentBytes,
		c.merges,
		c.mergeDuration,
		c.encoderFallbacks,
		c.collaboratorFailures,
		c.collaboratorCalls,
		c.realtimeConnections,
		c.realtimeBroadcasts,
		c.realtimeFailures,
		c.maintenanceRuns,
		c.maintenanceDuration,
		c.maintenanceLastRun,
	}
}

func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
