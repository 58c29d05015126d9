// Package metrics defines the Prometheus collectors exported by MedBay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tool call outcomes
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// Metrics holds every collector on a private registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	turns         *prometheus.CounterVec
	switches      *prometheus.CounterVec
	llmFailures   *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	sessionResets prometheus.Counter
	duplicates    *prometheus.CounterVec
	reminders     *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them, along with the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbay_turns_total",
			Help: "Conversation turns processed, by resulting intent.",
		}, []string{"intent"}),
		switches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbay_intent_switches_total",
			Help: "Intent switches decided by the classifier.",
		}, []string{"from", "to"}),
		llmFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbay_llm_failures_total",
			Help: "Failed LLM calls, by call site.",
		}, []string{"site"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbay_tool_calls_total",
			Help: "Tool invocations, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		turnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "medbay_turn_duration_seconds",
			Help:    "Time spent processing one conversation turn.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		sessionResets: f.NewCounter(prometheus.CounterOpts{
			Name: "medbay_sessions_reset_total",
			Help: "Sessions reset by an exit keyword.",
		}),
		duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbay_duplicate_messages_total",
			Help: "Inbound messages dropped as redeliveries, by channel.",
		}, []string{"channel"}),
		reminders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbay_reminders_total",
			Help: "Medication reminder deliveries, by outcome.",
		}, []string{"outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medbay_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medbay_http_request_duration_seconds",
			Help:    "HTTP request latency, by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Turn(intent string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(intent).Inc()
	m.turnDuration.Observe(d.Seconds())
}

func (m *Metrics) IntentSwitch(from, to string) {
	if m == nil {
		return
	}
	m.switches.WithLabelValues(from, to).Inc()
}

func (m *Metrics) LLMFailure(site string) {
	if m == nil {
		return
	}
	m.llmFailures.WithLabelValues(site).Inc()
}

func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) SessionReset() {
	if m == nil {
		return
	}
	m.sessionResets.Inc()
}

func (m *Metrics) DuplicateMessage(channel string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(channel).Inc()
}

// Reminder counts one medication reminder delivery attempt.
func (m *Metrics) Reminder(outcome string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests and observes their latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
