package execution

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/deployer/pkg/metrics"
)

var (
	// Deploys of big projects can take tens of minutes; most very
	// short jobs are failures.
	jobDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "deployer",
		Subsystem: "execution",
		Name:      "job_duration_seconds",
		Help:      "Duration of job execution, in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	}, []string{fluxmetrics.LabelStatus})

	setupHookDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "deployer",
		Subsystem: "execution",
		Name:      "setup_hook_duration_seconds",
		Help:      "Duration of waiting for external setup, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 20, 30, 45, 60},
	}, []string{fluxmetrics.LabelSuccess})
)
