package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trivia_core",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trivia_core",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trivia_core",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	sessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trivia_core",
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Total number of sessions started.",
		},
	)

	sessionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trivia_core",
			Subsystem: "sessions",
			Name:      "completed_total",
			Help:      "Total number of sessions reaching a terminal status.",
		},
		[]string{"status", "perfect"},
	)

	answersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trivia_core",
			Subsystem: "sessions",
			Name:      "answers_total",
			Help:      "Total number of answers submitted.",
		},
		[]string{"correct"},
	)

	workflowOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trivia_core",
			Subsystem: "workflow",
			Name:      "instances_total",
			Help:      "Total number of workflow instances by terminal status.",
		},
		[]string{"workflow", "status"},
	)

	workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trivia_core",
			Subsystem: "workflow",
			Name:      "instance_duration_seconds",
			Help:      "Duration of workflow instances from start to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"workflow"},
	)

	ladderReconciliations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trivia_core",
			Subsystem: "leaderboard",
			Name:      "reconciliations_total",
			Help:      "Total number of sorted-set rebuilds from SQL.",
		},
	)

	schedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trivia_core",
			Subsystem: "seasons",
			Name:      "transitions_total",
			Help:      "Total number of seasonal transition runs.",
		},
		[]string{"success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		sessionsStarted,
		sessionsCompleted,
		answersSubmitted,
		workflowOutcomes,
		workflowDuration,
		ladderReconciliations,
		schedulerRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordSessionStarted counts a successful session start.
func RecordSessionStarted() { sessionsStarted.Inc() }

// RecordSessionCompleted counts a terminal session.
func RecordSessionCompleted(status string, perfect bool) {
	sessionsCompleted.WithLabelValues(status, strconv.FormatBool(perfect)).Inc()
}

// RecordAnswer counts one answer submission.
func RecordAnswer(correct bool) {
	answersSubmitted.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

// RecordWorkflowOutcome counts a workflow instance reaching terminal status.
func RecordWorkflowOutcome(workflow, status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	workflowOutcomes.WithLabelValues(workflow, status).Inc()
	workflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordReconciliation counts one leaderboard rebuild.
func RecordReconciliation() { ladderReconciliations.Inc() }

// RecordSeasonTransition counts one scheduler run.
func RecordSeasonTransition(success bool) {
	schedulerRuns.WithLabelValues(strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "sessions":
		if len(parts) >= 3 {
			return "/sessions/:id/" + parts[2]
		}
		return "/sessions"
	case "mint":
		if len(parts) >= 3 {
			return "/mint/:id/" + parts[2]
		}
		return "/mint/:id"
	case "forge":
		if len(parts) >= 3 {
			return "/forge/:id/" + parts[2]
		}
		if len(parts) == 2 {
			return "/forge/" + parts[1]
		}
		return "/forge"
	case "leaderboard":
		if len(parts) >= 2 {
			return "/leaderboard/" + parts[1]
		}
		return "/leaderboard"
	default:
		return "/" + parts[0]
	}
}
