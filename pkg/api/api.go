// Package api describes what the deployer offers over HTTP, so that
// the server side and the client side agree.
package api

import (
	"context"

	"github.com/fluxcd/deployer/pkg/build"
	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/output"
	"github.com/fluxcd/deployer/pkg/project"
)

// Server is implemented by the daemon, and by the HTTP client.
type Server interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	// Deploy queues a deploy of a project's stage, and returns it as
	// it is once queued.
	Deploy(ctx context.Context, req DeployRequest) (job.View, error)
	JobStatus(ctx context.Context, id job.ID) (job.View, error)
	ListJobs(ctx context.Context) ([]job.View, error)
	// CancelJob asks for a job to stop. A job that hasn't started is
	// cancelled straight away; a running one is interrupted, and
	// becomes cancelled once it has cleaned up.
	CancelJob(ctx context.Context, id job.ID) error
	// RecordBuild tells the deployer about an image built from a
	// project's commit.
	RecordBuild(ctx context.Context, project string, b build.Build) error
}

// OutputServer can follow a job's output as it's written. It isn't
// part of Server, since the HTTP client follows output over a
// websocket instead.
type OutputServer interface {
	JobOutput(ctx context.Context, id job.ID) (*output.Subscription, error)
}

type DeployRequest struct {
	Project   string       `json:"project"`
	Stage     string       `json:"stage"`
	Reference string       `json:"reference"`
	User      project.User `json:"user"`
}
