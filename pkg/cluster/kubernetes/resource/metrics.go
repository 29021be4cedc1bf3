package resource

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/deployer/pkg/metrics"
)

var (
	operationDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "deployer",
		Subsystem: "kubernetes",
		Name:      "resource_operation_duration_seconds",
		Help:      "Duration of requests to the cluster API, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{fluxmetrics.LabelKind, fluxmetrics.LabelAction, fluxmetrics.LabelSuccess})
)

func observe(kind, action string, f func() error) error {
	begin := time.Now()
	err := f()
	operationDuration.With(
		fluxmetrics.LabelKind, kind,
		fluxmetrics.LabelAction, action,
		fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(time.Since(begin).Seconds())
	return err
}
