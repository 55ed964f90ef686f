package observer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports sandbox metrics through client_golang.
type PrometheusRecorder struct {
	executions       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	memory           *prometheus.HistogramVec
	output           *prometheus.HistogramVec
	submissions      *prometheus.CounterVec
	isolationAlerts  *prometheus.CounterVec
	activeExecutions prometheus.Gauge
	pending          prometheus.Gauge
	rateLimitHits    prometheus.Counter
}

// NewPrometheusRecorder registers the collectors on reg.
// A nil reg uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codejudge_executions_total",
				Help: "Total number of sandboxed executions by termination reason",
			},
			[]string{"language", "terminated_by"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codejudge_execution_duration_ms",
				Help:    "Wall-clock duration of one execution in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"language"},
		),
		memory: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codejudge_execution_memory_bytes",
				Help:    "Peak memory of one execution in bytes",
				Buckets: prometheus.ExponentialBuckets(1<<20, 2, 9),
			},
			[]string{"language"},
		),
		output: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codejudge_execution_output_bytes",
				Help:    "Captured stdout plus stderr of one execution in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 9),
			},
			[]string{"language"},
		),
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codejudge_submissions_total",
				Help: "Submissions by terminal state",
			},
			[]string{"language", "state"},
		),
		isolationAlerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codejudge_isolation_alerts_total",
				Help: "Submissions where every test case hit an isolation failure",
			},
			[]string{"language"},
		),
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codejudge_active_executions",
			Help: "Execution slots currently in use",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codejudge_pending_submissions",
			Help: "Admitted submissions not yet finished",
		}),
		rateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "codejudge_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
}

func (p *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, terminatedBy string, durationMs int64, memoryBytes int64, outputBytes int64) {
	p.executions.WithLabelValues(languageID, terminatedBy).Inc()
	p.duration.WithLabelValues(languageID).Observe(float64(durationMs))
	if memoryBytes > 0 {
		p.memory.WithLabelValues(languageID).Observe(float64(memoryBytes))
	}
	p.output.WithLabelValues(languageID).Observe(float64(outputBytes))
}

func (p *PrometheusRecorder) ObserveSubmission(ctx context.Context, languageID string, state string) {
	p.submissions.WithLabelValues(languageID, state).Inc()
}

func (p *PrometheusRecorder) ObserveIsolationAlert(ctx context.Context, languageID string) {
	p.isolationAlerts.WithLabelValues(languageID).Inc()
}

func (p *PrometheusRecorder) SetActiveExecutions(n int) {
	p.activeExecutions.Set(float64(n))
}

func (p *PrometheusRecorder) SetPendingSubmissions(n int) {
	p.pending.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveRateLimited() {
	p.rateLimitHits.Inc()
}
