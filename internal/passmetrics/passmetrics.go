// Package passmetrics exposes Prometheus instrumentation for the pass
// manager: a duration histogram per pass, a cache hit/miss counter per
// pass, and a diagnostic counter broken down by severity, registered
// once regardless of how many times the driver constructs a Recorder.
package passmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/passmgr"
)

type metricsCompiler struct {
	once sync.Once

	passDuration *prometheus.HistogramVec
	cacheHits    *prometheus.CounterVec
	diagnostics  *prometheus.CounterVec
}

var m metricsCompiler

func (m *metricsCompiler) init() {
	m.once.Do(func() {
		buckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
		m.passDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pcc_pass_seconds",
			Help:    "Duration of one compiler pass",
			Buckets: buckets,
		}, []string{"pass"})
		m.cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcc_pass_cache_total",
			Help: "Pass cache lookups, partitioned by outcome",
		}, []string{"pass", "outcome"})
		m.diagnostics = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcc_diagnostics_total",
			Help: "Diagnostics emitted, partitioned by severity",
		}, []string{"severity"})

		prometheus.MustRegister(m.passDuration, m.cacheHits, m.diagnostics)
	})
}

// Recorder implements passmgr.Metrics, feeding the package-level
// Prometheus collectors. Every Recorder shares the same underlying
// collectors — registration happens exactly once no matter how many
// Recorders a driver constructs across `--emit` invocations sharing one
// process (e.g. the metrics HTTP endpoint serving several compiles).
type Recorder struct{}

// NewRecorder registers the compiler's Prometheus collectors on first
// call and returns a Recorder ready to pass to passmgr.Manager.Run.
func NewRecorder() *Recorder {
	m.init()
	return &Recorder{}
}

var _ passmgr.Metrics = (*Recorder)(nil)

func (r *Recorder) ObservePassDuration(id passmgr.ID, d time.Duration) {
	m.passDuration.WithLabelValues(string(id)).Observe(d.Seconds())
}

func (r *Recorder) ObserveCacheHit(id passmgr.ID, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheHits.WithLabelValues(string(id), outcome).Inc()
}

// RecordDiagnostics increments the diagnostic counter once per entry in
// bag, partitioned by severity, mirroring how a driver would summarize
// a Bag's contents in its own exit-code decision (internal/diag.ExitCode
// reads the same Bag independently; this just mirrors its counts into
// Prometheus).
func RecordDiagnostics(bag *diag.Bag) {
	m.init()
	for _, d := range bag.All() {
		m.diagnostics.WithLabelValues(d.Level.String()).Inc()
	}
}
