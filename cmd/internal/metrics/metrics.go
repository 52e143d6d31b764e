// Package metrics holds the Prometheus collectors for the chat pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections",
		Help: "Open chat websocket connections.",
	})
	WSMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages",
		Help: "Chat messages accepted over websocket.",
	})
	WSBytesIn = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_bytes_in",
		Help: "Bytes of accepted chat message frames.",
	})
	WSTimeToProcess = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_time_to_process",
		Help:    "Milliseconds from bus delivery to client write.",
		Buckets: append(prometheus.LinearBuckets(150, 50, 12), 1000, 2500),
	})
	BusEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bus_subscriber_evictions_total",
		Help: "Fanout subscribers disconnected because their buffer overflowed.",
	})

	NotificationsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_enqueued_total",
		Help: "Notification records appended to the queue.",
	})
	NotificationsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Push attempts by result.",
	}, []string{"result"})
	PushRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "push_request_duration_seconds",
		Help:    "Push gateway request latency.",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"status"})

	LightsAwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lights_awarded_total",
		Help: "Scored messages that earned a non-zero award.",
	})
	LightsPoints = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lights_points_total",
		Help: "Points credited by the scoring engine.",
	})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		WSConnections,
		WSMessages,
		WSBytesIn,
		WSTimeToProcess,
		BusEvictions,
		NotificationsEnqueued,
		NotificationsDispatched,
		PushRequestDuration,
		LightsAwarded,
		LightsPoints,
	)
}

// Handler exposes the given gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveProcessing records the relay latency of one package in milliseconds.
func ObserveProcessing(start time.Time) {
	WSTimeToProcess.Observe(float64(time.Since(start).Microseconds()) / 1000)
}

// ObservePush records one push gateway call.
func ObservePush(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	PushRequestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// ObserveDispatch counts one device dispatch outcome: sent, failed or skipped.
func ObserveDispatch(result string) {
	if result == "" {
		result = "unknown"
	}
	NotificationsDispatched.WithLabelValues(result).Inc()
}

// ObserveAward counts a credited award.
func ObserveAward(points int) {
	if points <= 0 {
		return
	}
	LightsAwarded.Inc()
	LightsPoints.Add(float64(points))
}
