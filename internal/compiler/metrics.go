package compiler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robert-at-pretension-io/amsgen/internal/facts"
)

// metrics are the per-run counters written to the Prometheus textfile
type metrics struct {
	reg         *prometheus.Registry
	files       *prometheus.CounterVec
	modules     *prometheus.CounterVec
	updates     prometheus.Counter
	liveBranch  prometheus.Gauge
	deadStmts   prometheus.Gauge
	diagnostics *prometheus.CounterVec
	violations  *prometheus.CounterVec
	phase       *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		reg: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amsgen_files_total",
			Help: "Source files processed, by cache status.",
		}, []string{"status"}),
		modules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amsgen_modules_total",
			Help: "Modules compiled, by outcome.",
		}, []string{"outcome"}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "amsgen_fixpoint_updates_total",
			Help: "Statement updates performed by the dependency fixpoint.",
		}),
		liveBranch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "amsgen_live_branches",
			Help: "Branches exposed to the host by the generated models.",
		}),
		deadStmts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "amsgen_dead_statements",
			Help: "Statements removed as unreachable.",
		}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amsgen_diagnostics_total",
			Help: "Compiler diagnostics, by severity.",
		}, []string{"severity"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amsgen_lint_violations_total",
			Help: "Lint violations, by rule.",
		}, []string{"rule"}),
		phase: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amsgen_phase_duration_seconds",
			Help:    "Wall time of the driver phases.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"phase"}),
	}
	m.reg.MustRegister(m.files, m.modules, m.updates, m.liveBranch, m.deadStmts, m.diagnostics, m.violations, m.phase)
	return m
}

// observeTables counts what one run produced. Cached and fresh units
// count the same since both are read back from their fact rows.
func (m *metrics) observeTables(t facts.Tables) {
	for _, row := range t.Modules {
		outcome := "ok"
		if row.Failed {
			outcome = "failed"
		}
		m.modules.WithLabelValues(outcome).Inc()
		m.updates.Add(float64(row.Updates))
	}
	live, dead := 0, 0
	for _, b := range t.Branches {
		if b.Live {
			live++
		}
	}
	for _, s := range t.Statements {
		if s.Reach == "never" {
			dead++
		}
	}
	m.liveBranch.Set(float64(live))
	m.deadStmts.Set(float64(dead))
	for _, d := range t.Diagnostics {
		m.diagnostics.WithLabelValues(d.Severity).Inc()
	}
}

func (m *metrics) observePhase(phase string, start time.Time) {
	m.phase.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

func (m *metrics) write(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
