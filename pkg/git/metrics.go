package git

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/deployer/pkg/metrics"
)

const labelCommand = "command"

var (
	commandDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "deployer",
		Subsystem: "git",
		Name:      "command_duration_seconds",
		Help:      "Duration of git commands, in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{labelCommand, fluxmetrics.LabelSuccess})
)
