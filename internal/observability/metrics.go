package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamsOpened counts handles opened, by delivery mode.
	StreamsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serialdetect_streams_opened_total",
		Help: "Total number of event streams opened",
	}, []string{"mode"})

	// StreamsActive tracks handles that have not reached Closed yet.
	StreamsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "serialdetect_streams_active",
		Help: "Current number of open event streams",
	}, []string{"mode"})

	// StreamOutcomes counts terminal outcomes (completed, canceled, failed).
	StreamOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serialdetect_stream_outcomes_total",
		Help: "Terminal outcomes of event streams",
	}, []string{"mode", "outcome"})

	// RecordsDelivered counts records handed to consumers.
	RecordsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serialdetect_records_delivered_total",
		Help: "Records delivered to stream consumers",
	}, []string{"kind"})

	// RecordsDropped counts records that never reached a consumer.
	// reason: overflow, abort
	RecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serialdetect_records_dropped_total",
		Help: "Records dropped before delivery",
	}, []string{"reason"})

	// ForcedDetaches counts sources that did not acknowledge Unsubscribe in time.
	ForcedDetaches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serialdetect_forced_detaches_total",
		Help: "Sources detached after the stop timeout elapsed",
	})

	// TeardownSeconds tracks how long abort teardown takes.
	TeardownSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "serialdetect_teardown_seconds",
		Help:    "Duration from abort request to Closed",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	// DeviceEvents counts device hotplug events by action.
	DeviceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serialdetect_device_events_total",
		Help: "Serial device hotplug events observed",
	}, []string{"action"})

	// DaemonSessions tracks connected daemon stream clients by transport.
	DaemonSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "serialdetect_daemon_sessions",
		Help: "Current number of clients streaming from the daemon",
	}, []string{"transport"})
)
