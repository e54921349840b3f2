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

	"marecast/internal/model"
)

const namespace = "marecast"

// Recorder owns the collectors for factor runs, online predictions and the
// HTTP surface. Each Recorder has its own registry.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	bestScore          *prometheus.GaugeVec
	generationsTotal   *prometheus.CounterVec
	fitnessFailures    *prometheus.CounterVec
	predictionsTotal   *prometheus.CounterVec
	predictionDuration prometheus.Histogram
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Factor pipeline runs by outcome",
		}, []string{"factor", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of factor pipeline runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"factor"}),
		bestScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "best_score",
			Help:      "Best GA score of the latest run per factor",
		}, []string{"factor"}),
		generationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ga",
			Name:      "generations_total",
			Help:      "Completed GA generations",
		}, []string{"factor"}),
		fitnessFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ga",
			Name:      "fitness_failures_total",
			Help:      "Candidate evaluations that failed",
		}, []string{"factor"}),
		predictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "online",
			Name:      "predictions_total",
			Help:      "Online predictions by outcome",
		}, []string{"status"}),
		predictionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "online",
			Name:      "prediction_duration_seconds",
			Help:      "Wall time of online predictions",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests processed",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun records a finished run. Rejected runs still count and update the
// best score gauge.
func (r *Recorder) ObserveRun(run model.RunRecord, elapsed time.Duration) {
	status := run.Status
	if status == "" {
		status = "failed"
	}
	r.runsTotal.WithLabelValues(run.Factor, status).Inc()
	r.runDuration.WithLabelValues(run.Factor).Observe(elapsed.Seconds())
	if len(run.BestByGeneration) > 0 {
		r.bestScore.WithLabelValues(run.Factor).Set(run.BestScore)
	}
}

// ObserveRunError records a run that failed before producing a record.
func (r *Recorder) ObserveRunError(factor string, elapsed time.Duration) {
	r.runsTotal.WithLabelValues(factor, "failed").Inc()
	r.runDuration.WithLabelValues(factor).Observe(elapsed.Seconds())
}

// ObserveGeneration counts a completed generation and its failed evaluations.
func (r *Recorder) ObserveGeneration(factor string, failed int) {
	r.generationsTotal.WithLabelValues(factor).Inc()
	if failed > 0 {
		r.fitnessFailures.WithLabelValues(factor).Add(float64(failed))
	}
}

func (r *Recorder) ObservePrediction(err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.predictionsTotal.WithLabelValues(status).Inc()
	r.predictionDuration.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware counts and times requests by route template.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		r.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		r.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
