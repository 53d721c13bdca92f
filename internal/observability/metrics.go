package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report pipeline activity.
// All methods are safe on a nil receiver.
type Metrics struct {
	taskDuration   *prometheus.HistogramVec
	taskFailures   *prometheus.CounterVec
	backendRetries *prometheus.CounterVec
	runsActive     prometheus.Gauge
	runsTotal      *prometheus.CounterVec
	truncatedTasks prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the pipeline collectors with reg. Collectors that
// are already registered are reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quill",
			Subsystem: "pipeline",
			Name:      "task_duration_seconds",
			Help:      "Duration of each pipeline task by stage and outcome.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"stage", "status"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "pipeline",
			Name:      "task_failures_total",
			Help:      "Pipeline tasks that ended the run.",
		}, []string{"stage", "reason"}),
		backendRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Generation calls retried after a transient failure.",
		}, []string{"backend"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quill",
			Subsystem: "pipeline",
			Name:      "runs_active",
			Help:      "Pipeline runs currently executing.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by outcome.",
		}, []string{"outcome"}),
		truncatedTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "pipeline",
			Name:      "truncated_tasks_total",
			Help:      "Refinement tasks dropped by the dynamic task cap.",
		}),
	}

	m.taskDuration = register(reg, m.taskDuration)
	m.taskFailures = register(reg, m.taskFailures)
	m.backendRetries = register(reg, m.backendRetries)
	m.runsActive = register(reg, m.runsActive)
	m.runsTotal = register(reg, m.runsTotal)
	m.truncatedTasks = register(reg, m.truncatedTasks)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

// ObserveTask records the time spent in a task with the provided status label.
func (m *Metrics) ObserveTask(stage, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// IncTaskFailure counts a task that ended its run.
func (m *Metrics) IncTaskFailure(stage, reason string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(stage, reason).Inc()
}

// IncBackendRetry counts one retried generation call.
func (m *Metrics) IncBackendRetry(backend string) {
	if m == nil {
		return
	}
	m.backendRetries.WithLabelValues(backend).Inc()
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished marks a run as no longer active and counts its outcome.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// AddTruncated counts refinement tasks dropped by the cap.
func (m *Metrics) AddTruncated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.truncatedTasks.Add(float64(n))
}
