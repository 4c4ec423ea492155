// Package metrics exposes the engine's Prometheus collectors.
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
			Namespace: "baobab",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baobab",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "baobab",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	placements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baobab",
			Subsystem: "matrix",
			Name:      "placements_total",
			Help:      "Total matrix placements persisted.",
		},
		[]string{"stage", "qualified"},
	)

	duplicatePlacements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baobab",
			Subsystem: "matrix",
			Name:      "duplicate_placements_total",
			Help:      "Placement events absorbed as idempotent no-ops.",
		},
		[]string{"stage"},
	)

	completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baobab",
			Subsystem: "matrix",
			Name:      "completions_total",
			Help:      "Matrices that reached full qualified capacity.",
		},
		[]string{"stage"},
	)

	promotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baobab",
			Subsystem: "matrix",
			Name:      "promotions_total",
			Help:      "Stage promotions applied.",
		},
		[]string{"to_stage"},
	)

	requalifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baobab",
			Subsystem: "matrix",
			Name:      "requalifications_total",
			Help:      "Membership rows flipped to qualified by re-evaluation.",
		},
		[]string{"stage"},
	)

	bonusCents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baobab",
			Subsystem: "ledger",
			Name:      "bonus_cents_total",
			Help:      "Bonus value credited, in cents.",
		},
		[]string{"stage"},
	)

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baobab",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation audit runs.",
		},
		[]string{"outcome"},
	)

	reconcileDrifted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "baobab",
			Subsystem: "reconcile",
			Name:      "drifted_wallets",
			Help:      "Wallets whose totals diverge from the earnings ledger, per last audit.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		placements,
		duplicatePlacements,
		completions,
		promotions,
		requalifications,
		bonusCents,
		reconcileRuns,
		reconcileDrifted,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordPlacement counts a persisted placement.
func RecordPlacement(stage string, qualified bool) {
	placements.WithLabelValues(stage, strconv.FormatBool(qualified)).Inc()
}

// RecordDuplicatePlacement counts an idempotent no-op placement.
func RecordDuplicatePlacement(stage string) {
	duplicatePlacements.WithLabelValues(stage).Inc()
}

// RecordCompletion counts a matrix reaching capacity.
func RecordCompletion(stage string) {
	completions.WithLabelValues(stage).Inc()
}

// RecordPromotion counts a stage promotion.
func RecordPromotion(toStage string) {
	promotions.WithLabelValues(toStage).Inc()
}

// RecordRequalification counts a re-evaluation flip.
func RecordRequalification(stage string) {
	requalifications.WithLabelValues(stage).Inc()
}

// RecordBonus accumulates credited bonus value.
func RecordBonus(stage string, cents int64) {
	bonusCents.WithLabelValues(stage).Add(float64(cents))
}

// RecordReconcileRun records an audit outcome and the drift gauge.
func RecordReconcileRun(ok bool, driftedWallets int) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	reconcileRuns.WithLabelValues(outcome).Inc()
	if ok {
		reconcileDrifted.Set(float64(driftedWallets))
	}
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

type statusRecorder struct {
	http.ResponseWriter
	status int
}

// status starts at 200; implicit WriteHeader calls from Write never reach
// the wrapper, so only explicit calls are recorded.
func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses identifiers so the label set stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "members":
		if len(parts) == 1 {
			return "/members"
		}
		if len(parts) == 2 {
			return "/members/:id"
		}
		return "/members/:id/" + parts[2]
	case "events":
		if len(parts) >= 2 {
			return "/events/" + parts[1]
		}
		return "/events"
	default:
		return "/" + parts[0]
	}
}
