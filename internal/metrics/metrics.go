// Package metrics holds the Prometheus collectors of the HILO client.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the client's collectors.
	Registry = prometheus.NewRegistry()

	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hilo",
			Subsystem: "orchestrator",
			Name:      "actions_total",
			Help:      "Finished user actions by kind, final stage and error category.",
		},
		[]string{"kind", "stage", "category"},
	)

	actionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hilo",
			Subsystem: "orchestrator",
			Name:      "action_duration_seconds",
			Help:      "Wall time from trigger to outcome, including confirmations.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
		[]string{"kind"},
	)

	allowanceRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hilo",
			Subsystem: "orchestrator",
			Name:      "allowance_retries_total",
			Help:      "Trades restarted once after the allowance fell short.",
		},
	)

	refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hilo",
			Subsystem: "state",
			Name:      "refreshes_total",
			Help:      "Game state refreshes by result (applied, stale, error).",
		},
		[]string{"result"},
	)

	chainEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hilo",
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Contract events received by type.",
		},
		[]string{"event"},
	)

	resubscribes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hilo",
			Subsystem: "events",
			Name:      "resubscribes_total",
			Help:      "Times the event subscription was re-established after an error.",
		},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hilo",
			Subsystem: "http",
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hilo",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		actions,
		actionDuration,
		allowanceRetries,
		refreshes,
		chainEvents,
		resubscribes,
		wsClients,
		httpRequests,
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordAction counts a finished action.
func RecordAction(kind, stage, category string, duration time.Duration) {
	if category == "" {
		category = "none"
	}
	actions.WithLabelValues(kind, stage, category).Inc()
	actionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordAllowanceRetry counts an allowance-drift restart.
func RecordAllowanceRetry() { allowanceRetries.Inc() }

// RecordRefresh counts a refresh by result.
func RecordRefresh(result string) { refreshes.WithLabelValues(result).Inc() }

// RecordEvent counts a contract event.
func RecordEvent(name string) { chainEvents.WithLabelValues(name).Inc() }

// RecordResubscribe counts a subscription restart.
func RecordResubscribe() { resubscribes.Inc() }

// WebsocketConnected and WebsocketDisconnected track live websocket clients.
func WebsocketConnected()    { wsClients.Inc() }
func WebsocketDisconnected() { wsClients.Dec() }

// InstrumentHandler counts requests. route must return the matched route
// pattern so path parameters do not explode label cardinality.
func InstrumentHandler(next http.Handler, route func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		pattern := route(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		httpRequests.WithLabelValues(strings.ToUpper(r.Method), pattern, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer cannot be hijacked")
	}
	return h.Hijack()
}
