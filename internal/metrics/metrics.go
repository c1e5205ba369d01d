// Package metrics exposes the coordinator and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suPer8Hu/momento/internal/chat"
)

const namespace = "momento"

// Recorder owns every metric of the process on its own registry.
type Recorder struct {
	reg *prometheus.Registry

	submitted prometheus.Counter
	rejected  *prometheus.CounterVec
	terminal  *prometheus.CounterVec
	reaped    *prometheus.CounterVec
	latency   *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	workerProcessed *prometheus.CounterVec
}

var _ chat.Metrics = (*Recorder)(nil)

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		submitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompts_submitted_total",
			Help:      "Prompts written to the shared queue.",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompts_rejected_total",
			Help:      "Submissions refused or failed, by reason.",
		}, []string{"reason"}),
		terminal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompts_terminal_total",
			Help:      "Jobs that reached a terminal state, by state.",
		}, []string{"status"}),
		reaped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompts_reaped_total",
			Help:      "Garbage collection runs, by outcome.",
		}, []string{"result"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_latency_seconds",
			Help:      "Time from submission to the terminal state.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		workerProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_prompts_processed_total",
			Help:      "Prompts handled by the reference worker, by outcome.",
		}, []string{"outcome"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) Submitted() { r.submitted.Inc() }

func (r *Recorder) Rejected(reason string) { r.rejected.WithLabelValues(reason).Inc() }

func (r *Recorder) Terminal(status chat.LifecycleStatus, elapsed time.Duration) {
	r.terminal.WithLabelValues(string(status)).Inc()
	r.latency.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (r *Recorder) Reaped(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.reaped.WithLabelValues(result).Inc()
}

// WorkerProcessed counts prompts handled by the reference worker.
func (r *Recorder) WorkerProcessed(outcome string) {
	r.workerProcessed.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// GinMiddleware records request counts and durations. Routes are labelled
// by their pattern so ids do not explode cardinality.
func (r *Recorder) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		r.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
