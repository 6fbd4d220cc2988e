package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	scanSuccessCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depscan_successful_project_scans",
		Help: "Counter for projects that were scanned and reconciled successfully.",
	}, []string{"job_type"})
	scanFailedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depscan_failed_project_scans",
		Help: "Counter for projects whose scan or reconciliation failed.",
	}, []string{"job_type"})
	scanSkippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depscan_skipped_project_scans",
		Help: "Counter for projects skipped because their run was cancelled.",
	}, []string{"job_type"})
	raisedEventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depscan_raised_finding_events",
		Help: "Counter for finding events raised by reconciliation.",
	}, []string{"kind"})
	scanDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "depscan_project_scan_duration_seconds",
		Help:    "Duration of scanning and reconciling one project.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"job_type"})
)

func init() {
	prometheus.MustRegister(scanSuccessCounter)
	prometheus.MustRegister(scanFailedCounter)
	prometheus.MustRegister(scanSkippedCounter)
	prometheus.MustRegister(raisedEventsCounter)
	prometheus.MustRegister(scanDurationHistogram)
}
