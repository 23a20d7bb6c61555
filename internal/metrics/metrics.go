package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Scan sources for ScanDurationSeconds.
const (
	SourceAPI     = "api"
	SourceSession = "session"
)

var (
	once sync.Once

	// ScansTotal counts completed mock scans by risk level.
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eclipse",
		Subsystem: "scan",
		Name:      "completed_total",
		Help:      "Total number of mock scans that produced a result, labeled by risk level.",
	}, []string{"risk"})

	// ScanFailuresTotal counts scans that ended in an error state.
	ScanFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eclipse",
		Subsystem: "scan",
		Name:      "failed_total",
		Help:      "Total number of scans that failed while processing.",
	})

	// ScanDurationSeconds is the time from trigger to result, labeled by
	// source. Session scans include the simulated delays; API scans do not.
	ScanDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eclipse",
		Subsystem: "scan",
		Name:      "duration_seconds",
		Help:      "Time from scan trigger to result, labeled by source (api or session).",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 3, 4, 5, 7.5, 10},
	}, []string{"source"})

	// ValidationFailuresTotal counts rejected files by the rule they broke.
	ValidationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eclipse",
		Subsystem: "upload",
		Name:      "validation_failures_total",
		Help:      "Total number of rejected image files, labeled by failed rule.",
	}, []string{"rule"})

	// HistoryEntries is the length of the persisted history after the last write.
	HistoryEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eclipse",
		Subsystem: "history",
		Name:      "entries",
		Help:      "Number of entries in the saved scan history after the last write.",
	})

	// ActiveSessions is the number of open scan sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eclipse",
		Subsystem: "workflow",
		Name:      "active_sessions",
		Help:      "Number of scan sessions currently open.",
	})

	// DocumentsTotal counts files accepted by document upload boxes.
	DocumentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eclipse",
		Subsystem: "documents",
		Name:      "files_total",
		Help:      "Total number of files described by the document upload endpoint.",
	})
)

// Register registers eclipse metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ScansTotal,
			ScanFailuresTotal,
			ScanDurationSeconds,
			ValidationFailuresTotal,
			HistoryEntries,
			ActiveSessions,
			DocumentsTotal,
		)
	})
}
