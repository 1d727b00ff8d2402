package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stimlink",
			Subsystem: "frame",
			Name:      "decoded_total",
			Help:      "Frames decoded from the byte stream.",
		},
		[]string{"port"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stimlink",
			Subsystem: "frame",
			Name:      "dropped_total",
			Help:      "Frames discarded during decode, by cause.",
		},
		[]string{"port", "cause"},
	)
	commandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stimlink",
			Subsystem: "session",
			Name:      "commands_sent_total",
			Help:      "Commands written to the transport.",
		},
		[]string{"port", "cmd"},
	)
	acksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stimlink",
			Subsystem: "session",
			Name:      "acks_dropped_total",
			Help:      "Acknowledgments dropped without a matching correlation.",
		},
		[]string{"port", "cause"},
	)
	watchdogRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stimlink",
			Subsystem: "midlevel",
			Name:      "watchdog_refreshes_total",
			Help:      "Update resends triggered by the watchdog cadence.",
		},
		[]string{"port"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesDecoded, framesDropped, commandsSent, acksDropped, watchdogRefreshes)
	})
}

// ServeMetrics exposes the default registry on addr under /metrics. It
// blocks until the listener fails.
func ServeMetrics(addr string) error {
	RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

func RecordFrameDecoded(port string) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(port).Inc()
}

func RecordFrameDropped(port, cause string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(port, cause).Inc()
}

func RecordCommandSent(port, cmd string) {
	RegisterMetrics()
	commandsSent.WithLabelValues(port, cmd).Inc()
}

func RecordAckDropped(port, cause string) {
	RegisterMetrics()
	acksDropped.WithLabelValues(port, cause).Inc()
}

func RecordWatchdogRefresh(port string) {
	RegisterMetrics()
	watchdogRefreshes.WithLabelValues(port).Inc()
}
