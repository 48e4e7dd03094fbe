// Package metrics exposes prometheus counters for the form engine and the
// HTTP host.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mea_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mea_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "route"},
	)

	DraftSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mea_draft_saves_total",
			Help: "Draft write-throughs by outcome",
		},
		[]string{"outcome"},
	)

	DraftsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mea_drafts_discarded_total",
			Help: "Unreadable drafts dropped on restore",
		},
	)

	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mea_submissions_total",
			Help: "Report submissions by level and outcome",
		},
		[]string{"level", "outcome"},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestCounter, RequestDuration, DraftSaves, DraftsDiscarded, Submissions)
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Wizard records form engine events; it satisfies wizard.Metrics.
type Wizard struct{}

func (Wizard) DraftSaved(err error) { DraftSaves.WithLabelValues(outcome(err)).Inc() }

func (Wizard) DraftDiscarded() { DraftsDiscarded.Inc() }

func (Wizard) Submitted(level string, err error) {
	Submissions.WithLabelValues(level, outcome(err)).Inc()
}

// Middleware counts requests by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
