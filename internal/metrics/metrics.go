package metrics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/authsvc/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Auth operations

	AuthOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "operations_total",
		Help:      "Auth operations by operation and outcome kind.",
	}, []string{"operation", "outcome"})

	PasswordHashDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "auth",
		Name:      "password_hash_duration_seconds",
		Help:      "Time spent deriving password hashes, including queueing for a slot.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"op"})

	OTPConflictRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "otp_conflict_retries_total",
		Help:      "OTP consumptions retried after a concurrent write to the same user.",
	}, []string{"purpose"})

	// Notifier

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "notifications_total",
		Help:      "OTP emails by purpose and outcome.",
	}, []string{"purpose", "outcome"})

	NotificationsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "auth",
		Name:      "notifications_in_flight",
		Help:      "OTP emails currently being delivered.",
	})

	// Sweeper

	OTPSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "otp_swept_total",
		Help:      "Users whose expired OTPs were cleared by the sweeper.",
	})

	SweepCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "auth",
		Name:      "sweep_cycle_duration_seconds",
		Help:      "Time taken for one sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "auth",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "http_errors_total",
		Help:      "Error responses by route and error kind.",
	}, []string{"path", "kind"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		AuthOperationsTotal,
		PasswordHashDuration,
		OTPConflictRetriesTotal,
		NotificationsTotal,
		NotificationsInFlight,
		OTPSweptTotal,
		SweepCycleDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HTTPErrorsTotal,
	)
}

type checker interface {
	Liveness(ctx context.Context) health.HealthResult
	Readiness(ctx context.Context) health.HealthResult
}

// NewServer serves /metrics plus the liveness and readiness probes.
func NewServer(addr string, c checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, c.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, c.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, res health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if res.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(res)
}
