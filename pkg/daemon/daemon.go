package daemon

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/deployer/pkg/api"
	"github.com/fluxcd/deployer/pkg/build"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/execution"
	"github.com/fluxcd/deployer/pkg/git"
	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/output"
	"github.com/fluxcd/deployer/pkg/project"
)

// Daemon accepts deploys, queues them, and runs them a few at a
// time.
type Daemon struct {
	V        string
	Projects map[string]*project.Project
	Mirrors  *git.Mirrors
	Jobs     *job.Queue
	Store    job.Store
	// Builds reported over the API go here; it's usually also the
	// lookup in Execution.
	Builds    *build.MemLookup
	Execution execution.Config
	// Deploy URLs are made from this, e.g., https://deployer.example.com
	BaseURL string
	Workers int
	Logger  log.Logger

	// Per git operation on a mirror; zero means the default
	GitTimeout time.Duration

	mu         sync.Mutex
	executions map[job.ID]*queued
}

type queued struct {
	exec       *execution.Execution
	enqueuedAt time.Time
}

// Invariant.
var (
	_ api.Server       = &Daemon{}
	_ api.OutputServer = &Daemon{}
)

func (d *Daemon) Version(ctx context.Context) (string, error) {
	return d.V, nil
}

func (d *Daemon) Ping(ctx context.Context) error {
	return nil
}

// Deploy makes a deploy job for the project's stage and queues it.
func (d *Daemon) Deploy(ctx context.Context, req api.DeployRequest) (job.View, error) {
	p, ok := d.Projects[req.Project]
	if !ok {
		return job.View{}, unknownProjectError(req.Project)
	}
	stage, ok := p.Stage(req.Stage)
	if !ok {
		return job.View{}, unknownStageError(p.Permalink, req.Stage)
	}
	if req.Reference == "" {
		return job.View{}, fluxerr.UserError("a git reference to deploy is required")
	}

	deploy := job.NewDeploy(p, stage, req.User, req.Reference)
	deploy.URL = d.BaseURL + "/projects/" + p.Permalink + "/deploys/" + string(deploy.ID)
	deploy.Job.URL = deploy.URL
	if err := d.Store.Put(deploy.Job); err != nil {
		return job.View{}, errors.Wrap(err, "storing job")
	}
	d.enqueue(deploy.Job)
	return deploy.Job.View(), nil
}

// enqueue prepares an execution of the job, then puts the job on
// the queue for a worker to pick up.
func (d *Daemon) enqueue(j *job.Job) *execution.Execution {
	var opts []git.Option
	if d.GitTimeout > 0 {
		opts = append(opts, git.Timeout(d.GitTimeout))
	}
	repo, _ := d.Mirrors.Mirror(j.Project.Permalink, j.Project.Remote(), opts...)
	e := execution.New(j, repo, d.Execution, nil)

	d.mu.Lock()
	if d.executions == nil {
		d.executions = map[job.ID]*queued{}
	}
	d.executions[j.ID] = &queued{exec: e, enqueuedAt: time.Now()}
	d.mu.Unlock()

	d.Jobs.Enqueue(j)
	queueLength.Set(float64(d.Jobs.Len()))
	return e
}

func (d *Daemon) execution(id job.ID) (*queued, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.executions[id]
	return q, ok
}

func (d *Daemon) forget(id job.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.executions, id)
}

func (d *Daemon) JobStatus(ctx context.Context, id job.ID) (job.View, error) {
	j, err := d.Store.Get(id)
	if err != nil {
		if fluxerr.IsMissing(err) {
			return job.View{}, unknownJobError(id)
		}
		return job.View{}, err
	}
	v := j.View()
	if v.Status == job.StatusPending {
		v.Position = d.Jobs.Position(id)
	}
	return v, nil
}

// ListJobs returns the jobs the deployer remembers, newest first.
func (d *Daemon) ListJobs(ctx context.Context) ([]job.View, error) {
	jobs, err := d.Store.List()
	if err != nil {
		return nil, err
	}
	views := make([]job.View, len(jobs))
	for i, j := range jobs {
		views[i] = j.View()
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views, nil
}

func (d *Daemon) CancelJob(ctx context.Context, id job.ID) error {
	q, ok := d.execution(id)
	if !ok {
		// Finished already, or never heard of
		_, err := d.JobStatus(ctx, id)
		return err
	}
	j := q.exec.Job
	if j.Status() == job.StatusPending && j.Transition(job.StatusCancelled) == nil {
		q.exec.Skip("Job was cancelled before it started")
		// If a worker has it already, the worker forgets it
		if d.Jobs.Remove(id) {
			d.forget(id)
			queueLength.Set(float64(d.Jobs.Len()))
		}
		d.Logger.Log("job", id, "state", "cancelled", "queued", true)
		return nil
	}
	q.exec.Cancel()
	d.Logger.Log("job", id, "state", "cancelling")
	return nil
}

// JobOutput follows the output of a job. The output of a job that
// has already finished is given all at once.
func (d *Daemon) JobOutput(ctx context.Context, id job.ID) (*output.Subscription, error) {
	if q, ok := d.execution(id); ok {
		return q.exec.Out.Subscribe(), nil
	}
	j, err := d.Store.Get(id)
	if err != nil {
		if fluxerr.IsMissing(err) {
			return nil, unknownJobError(id)
		}
		return nil, err
	}
	out := output.NewBuffer()
	out.Write([]byte(j.Output()))
	out.WriteEvent("", output.Finished)
	out.Close()
	return out.Subscribe(), nil
}

func (d *Daemon) RecordBuild(ctx context.Context, permalink string, b build.Build) error {
	if _, ok := d.Projects[permalink]; !ok {
		return unknownProjectError(permalink)
	}
	if d.Builds == nil {
		return fluxerr.UserError("this deployer does not accept builds")
	}
	if err := d.Builds.Put(permalink, b); err != nil {
		return fluxerr.UserError("invalid build: %s", err)
	}
	return nil
}
