package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize *prometheus.GaugeVec

	toolDiscoveryTotal    *prometheus.CounterVec
	toolsRegistered       prometheus.Gauge
	toolInvocationTotal   *prometheus.CounterVec
	toolInvocationSeconds *prometheus.HistogramVec

	agentTurnTotal      *prometheus.CounterVec
	agentTurnSeconds    prometheus.Histogram
	pendingConfirmation prometheus.Gauge

	sessionLoadSeconds prometheus.Histogram
	sessionSaveSeconds prometheus.Histogram
	sessionsDeleted    prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			toolDiscoveryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_discovery_total",
					Help: "Tool catalog discovery attempts by outcome (cache, success, unreachable, timeout, malformed).",
				},
				[]string{"status"},
			),
			toolsRegistered: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tools_registered",
					Help: "Number of compiled tools bound to the agent.",
				},
			),
			toolInvocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_invocation_total",
					Help: "Remote tool invocations by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolInvocationSeconds: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_invocation_duration_seconds",
					Help:    "Remote tool invocation duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			agentTurnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_turn_total",
					Help: "Processed messages by response status and error kind.",
				},
				[]string{"status", "kind"},
			),
			agentTurnSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_turn_duration_seconds",
					Help:    "Message processing duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			pendingConfirmation: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pending_confirmations",
					Help: "Armed destructive-action confirmations awaiting a reply.",
				},
			),
			sessionLoadSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionsDeleted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_deleted_total",
					Help: "Sessions removed by retention.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.toolDiscoveryTotal,
			m.toolsRegistered,
			m.toolInvocationTotal,
			m.toolInvocationSeconds,
			m.agentTurnTotal,
			m.agentTurnSeconds,
			m.pendingConfirmation,
			m.sessionLoadSeconds,
			m.sessionSaveSeconds,
			m.sessionsDeleted,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordDiscovery(status string) {
	getMetrics().toolDiscoveryTotal.WithLabelValues(status).Inc()
}

func SetToolsRegistered(count int) {
	getMetrics().toolsRegistered.Set(float64(count))
}

func RecordToolInvocation(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolInvocationTotal.WithLabelValues(tool, status).Inc()
	m.toolInvocationSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordAgentTurn(status, kind string, duration time.Duration) {
	m := getMetrics()
	m.agentTurnTotal.WithLabelValues(status, kind).Inc()
	m.agentTurnSeconds.Observe(duration.Seconds())
}

func SetPendingConfirmations(count int) {
	getMetrics().pendingConfirmation.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadSeconds.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveSeconds.Observe(duration.Seconds())
}

func RecordSessionsDeleted(count int) {
	getMetrics().sessionsDeleted.Add(float64(count))
}
