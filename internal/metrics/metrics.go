// Package metrics exposes the Prometheus instrumentation for the
// decision engine's runtime: command emission counts, current-room
// changes, and the queue-depth/backpressure counters that make the
// scheduler's behavior observable. Wiring follows the plain
// net/http.ServeMux + promhttp.Handler() shape, no router framework.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric presenced exports.
type Registry struct {
	CommandsEmitted   *prometheus.CounterVec
	CurrentRoomChange prometheus.Counter
	OutboundQueueFull prometheus.Counter
	PayloadErrors     *prometheus.CounterVec
	OutboundQueueSize prometheus.Gauge
}

// NewRegistry registers and returns the metric set on reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		CommandsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "presenced",
			Name:      "commands_emitted_total",
			Help:      "Switch commands emitted by the planner, by desired state.",
		}, []string{"desired"}),
		CurrentRoomChange: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "presenced",
			Name:      "current_room_changes_total",
			Help:      "Number of times the current-room tracker elected a different room.",
		}),
		OutboundQueueFull: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "presenced",
			Name:      "outbound_queue_full_total",
			Help:      "Number of times the outbound command queue dropped the oldest queued command.",
		}),
		PayloadErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "presenced",
			Name:      "payload_errors_total",
			Help:      "Inbound payloads dropped, by failure kind.",
		}, []string{"kind"}),
		OutboundQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "presenced",
			Name:      "outbound_queue_size",
			Help:      "Current depth of the outbound command queue.",
		}),
	}
}

// Handler returns an HTTP handler serving /metrics and /healthz on a
// bare ServeMux, mirroring 0DukePan's router wiring for promhttp.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
