package kubernetes

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/deployer/pkg/metrics"
)

var (
	releaseDocDeployDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "deployer",
		Subsystem: "kubernetes",
		Name:      "release_doc_deploy_duration_seconds",
		Help:      "Duration of deploying the resources of one deploy group and role, in seconds.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{fluxmetrics.LabelSuccess})

	reverts = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "deployer",
		Subsystem: "kubernetes",
		Name:      "reverts_total",
		Help:      "Count of release documents reverted after a failed deploy.",
	}, []string{fluxmetrics.LabelSuccess})
)
