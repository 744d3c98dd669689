package hooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Skryldev/image-shelf/core"
)

// PrometheusMetrics exposes pipeline and collection activity as Prometheus
// collectors registered on a caller-supplied registerer.
type PrometheusMetrics struct {
	StepDuration *prometheus.HistogramVec
	StepErrors   *prometheus.CounterVec
	Throughput   prometheus.Counter
	Operations   *prometheus.CounterVec
}

// NewPrometheusMetrics registers the imageshelf collectors on reg.  A nil
// reg registers on prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusMetrics{
		StepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imageshelf_step_duration_seconds",
				Help:    "Duration of codec pipeline steps in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		StepErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imageshelf_step_errors_total",
				Help: "Total number of failed codec pipeline steps",
			},
			[]string{"step", "category"},
		),
		Throughput: f.NewCounter(prometheus.CounterOpts{
			Name: "imageshelf_step_output_bytes_total",
			Help: "Total encoded bytes produced by codec pipeline steps",
		}),
		// Ingest, evict and load.
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imageshelf_operations_total",
				Help: "Total number of collection operations",
			},
			[]string{"operation", "status"},
		),
	}
}

func (p *PrometheusMetrics) RecordProcessingTime(stepName string, d time.Duration) {
	p.StepDuration.WithLabelValues(stepName).Observe(d.Seconds())
}

func (p *PrometheusMetrics) RecordThroughput(bytes int64) {
	if bytes > 0 {
		p.Throughput.Add(float64(bytes))
	}
}

func (p *PrometheusMetrics) RecordError(stepName string, category string) {
	p.StepErrors.WithLabelValues(stepName, category).Inc()
}

func (p *PrometheusMetrics) RecordOperation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.Operations.WithLabelValues(op, status).Inc()
}

var _ core.MetricsCollector = (*PrometheusMetrics)(nil)
