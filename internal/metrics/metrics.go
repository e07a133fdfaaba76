// Package metrics holds the Prometheus instruments of the gating pipeline.
//
// commitgate runs as a short-lived CLI, so metrics are collected in a
// private registry and, when configured, written to a node-exporter
// textfile at the end of a run rather than served over HTTP.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/commitgate/internal/bisect"
	"github.com/dshills/commitgate/internal/risk"
	"github.com/dshills/commitgate/internal/sanitize"
)

const namespace = "commitgate"

// Metrics is a set of pipeline instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	reg *prometheus.Registry

	ScansTotal        *prometheus.CounterVec
	FindingsTotal     *prometheus.CounterVec
	ChunksPerDiff     prometheus.Histogram
	GenerationsTotal  *prometheus.CounterVec
	GenerationSeconds *prometheus.HistogramVec
	InvalidCodesTotal *prometheus.CounterVec
	RiskScore         prometheus.Histogram
	StrategiesTotal   *prometheus.CounterVec
	OracleCallsTotal  *prometheus.CounterVec
	BisectsTotal      *prometheus.CounterVec
}

// New creates the instruments in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		ScansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sanitize", Name: "scans_total",
			Help: "Diffs scanned by verdict.",
		}, []string{"verdict"}),
		FindingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sanitize", Name: "findings_total",
			Help: "Sensitive findings by severity.",
		}, []string{"severity"}),
		ChunksPerDiff: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "chunk", Name: "chunks_per_diff",
			Help:    "Number of chunks a diff was split into.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		GenerationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "generation", Name: "calls_total",
			Help: "Generation calls by provider and status.",
		}, []string{"provider", "status"}),
		GenerationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "generation", Name: "duration_seconds",
			Help:    "Generation call latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
		InvalidCodesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "compliance", Name: "invalid_codes_total",
			Help: "Declared compliance codes rejected by framework.",
		}, []string{"framework"}),
		RiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "risk", Name: "score",
			Help:    "Distribution of risk scores.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		StrategiesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "risk", Name: "strategies_total",
			Help: "Assessments by recommended deployment strategy.",
		}, []string{"strategy"}),
		OracleCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bisect", Name: "oracle_calls_total",
			Help: "Oracle invocations by verdict.",
		}, []string{"verdict"}),
		BisectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bisect", Name: "sessions_total",
			Help: "Bisect sessions by terminal state.",
		}, []string{"state"}),
	}
}

// Registry returns the registry holding the instruments.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveScan records a sanitizer report.
func (m *Metrics) ObserveScan(r *sanitize.Report) {
	if m == nil || r == nil {
		return
	}
	m.ScansTotal.WithLabelValues(string(r.Verdict)).Inc()
	for sev, n := range r.Counts {
		m.FindingsTotal.WithLabelValues(string(sev)).Add(float64(n))
	}
}

// ObserveChunks records how many chunks a diff produced.
func (m *Metrics) ObserveChunks(n int) {
	if m == nil {
		return
	}
	m.ChunksPerDiff.Observe(float64(n))
}

// ObserveGeneration records one generation call.
func (m *Metrics) ObserveGeneration(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.GenerationsTotal.WithLabelValues(provider, status).Inc()
	m.GenerationSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveInvalidCode records a rejected compliance code.
func (m *Metrics) ObserveInvalidCode(framework string) {
	if m == nil {
		return
	}
	m.InvalidCodesTotal.WithLabelValues(framework).Inc()
}

// ObserveAssessment records a risk assessment.
func (m *Metrics) ObserveAssessment(a risk.Assessment) {
	if m == nil {
		return
	}
	m.RiskScore.Observe(a.Score)
	m.StrategiesTotal.WithLabelValues(string(a.Strategy)).Inc()
}

// ObserveSession records a finished bisect session.
func (m *Metrics) ObserveSession(s *bisect.Session) {
	if m == nil || s == nil {
		return
	}
	for _, st := range s.Steps {
		m.OracleCallsTotal.WithLabelValues(string(st.Verdict)).Inc()
	}
	m.BisectsTotal.WithLabelValues(string(s.State)).Inc()
}

// WriteTextfile writes all metrics in the text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
