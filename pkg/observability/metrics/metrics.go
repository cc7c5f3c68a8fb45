package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every reporting collector. It is separate from the default
// registry so tests can read values without global side effects.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	cohortEvaluations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reporting",
		Subsystem: "cohort",
		Name:      "evaluations_total",
		Help:      "Cohort evaluations by query kind and outcome.",
	}, []string{"kind", "status"})

	cohortEvaluationSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reporting",
		Subsystem: "cohort",
		Name:      "evaluation_seconds",
		Help:      "Cohort evaluation latency by query kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	cohortSize = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reporting",
		Subsystem: "cohort",
		Name:      "result_size",
		Help:      "Number of members in evaluated cohorts.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"kind"})

	cacheLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reporting",
		Subsystem: "cohort",
		Name:      "cache_lookups_total",
		Help:      "Cohort cache lookups by result.",
	}, []string{"result"})

	materializations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reporting",
		Subsystem: "cohort",
		Name:      "materializations_total",
		Help:      "Finished cohort materialization jobs by status.",
	}, []string{"status"})

	materializationsRunning = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "reporting",
		Subsystem: "cohort",
		Name:      "materializations_running",
		Help:      "Materialization jobs currently holding a worker.",
	})
)

func Init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func ObserveEvaluation(kind, status string, elapsed time.Duration, size int) {
	cohortEvaluations.WithLabelValues(kind, status).Inc()
	cohortEvaluationSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
	if status == "ok" {
		cohortSize.WithLabelValues(kind).Observe(float64(size))
	}
}

func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

func MaterializationStarted() {
	materializationsRunning.Inc()
}

func MaterializationFinished(status string) {
	materializationsRunning.Dec()
	materializations.WithLabelValues(status).Inc()
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
