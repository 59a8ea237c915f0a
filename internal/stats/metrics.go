// Package stats carries the prometheus instrumentation, the
// minute-aligned stream statistics and the optional per-event arrival
// log.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts events accepted into a stream.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_published_total",
		Help: "Events accepted into a stream.",
	}, []string{"stream"})

	// EventsDelivered counts events flushed to subscribers.
	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_delivered_total",
		Help: "Events flushed to subscribers.",
	}, []string{"stream"})

	// EventsDropped counts events lost to full subscriber queues or
	// publisher overflow.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_dropped_total",
		Help: "Events dropped, by reason.",
	}, []string{"stream", "reason"})

	// SubscribersActive tracks currently registered subscribers.
	SubscribersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_subscribers_active",
		Help: "Currently registered subscribers.",
	}, []string{"stream"})

	// PublishErrors counts rejected publish requests.
	PublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_publish_errors_total",
		Help: "Rejected publish requests, by kind.",
	}, []string{"stream", "kind"})

	// PersistenceErrors counts failed log appends. Delivery is not
	// affected by these.
	PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_persistence_errors_total",
		Help: "Failed event log appends.",
	}, []string{"stream"})

	// FlushDuration observes how long a full subscriber flush takes.
	FlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stream_flush_duration_seconds",
		Help:    "Duration of one flush across all subscribers.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stream"})

	// FeedbackResponses counts feedback replies by section status.
	FeedbackResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_responses_total",
		Help: "Feedback responses by scores and road-info status.",
	}, []string{"scores_status", "road_info_status"})

	// RelayReconnects counts relay client reconnection attempts.
	RelayReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_reconnects_total",
		Help: "Relay client reconnection attempts.",
	}, []string{"url"})
)
