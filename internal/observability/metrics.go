package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_sdk_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaign_sdk_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campaign_sdk_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_sdk_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)
	Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_sdk_evaluations_total",
			Help: "Campaign evaluations by outcome (match, no_match, config_error)",
		}, []string{"outcome"},
	)
	Refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_sdk_refreshes_total",
			Help: "Campaign list loads by phase and result",
		}, []string{"phase", "result"},
	)
	PendingCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campaign_sdk_pending_calls",
		Help: "Calls waiting for a lifecycle milestone",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RequestErrors, Evaluations, Refreshes, PendingCalls)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
		if rr.code >= http.StatusInternalServerError {
			RequestErrors.WithLabelValues("server").Inc()
		} else if rr.code >= http.StatusBadRequest {
			RequestErrors.WithLabelValues("client").Inc()
		}
	})
}
