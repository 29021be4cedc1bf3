// Package execution runs jobs: it sets up a working directory for
// the commit being deployed, runs the stage's commands or deploys to
// Kubernetes, and keeps the job's status and output up to date
// throughout.
package execution

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/deployer/pkg/build"
	"github.com/fluxcd/deployer/pkg/cluster"
	"github.com/fluxcd/deployer/pkg/cluster/kubernetes"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/hooks"
	"github.com/fluxcd/deployer/pkg/job"
	fluxmetrics "github.com/fluxcd/deployer/pkg/metrics"
	"github.com/fluxcd/deployer/pkg/notify"
	"github.com/fluxcd/deployer/pkg/output"
	"github.com/fluxcd/deployer/pkg/terminal"
)

const pruneTimeout = time.Minute

// Repository is what an execution needs from a project's git
// repository; *git.Repo is one.
type Repository interface {
	Resolve(ctx context.Context, ref string) (commit, tag string, err error)
	CheckoutWorkingTree(ctx context.Context, dir, ref string, full bool) error
	PruneWorktrees(ctx context.Context) error
	FileContent(ctx context.Context, commit, path string) ([]byte, error)
	CacheDir() (string, error)
}

// Config is what all executions share.
type Config struct {
	Hooks    *hooks.Registry
	Builds   build.Lookup
	Clusters cluster.Clusters
	Store    job.Store
	Notifier notify.Notifier
	Logger   log.Logger
	// Used to call external setup hooks
	Client *http.Client

	// Where working directories are made; empty means the system's
	// temporary directory
	TempDir       string
	Timeout       time.Duration
	CancelTimeout time.Duration
	Verbose       bool

	Setup         SetupTimings
	BuildInterval time.Duration
	BuildTimeout  time.Duration

	AutoMinAvailable string
	RolloutTimeout   time.Duration
}

// Block replaces the default pipeline of an execution; it's given the
// working directory, with the commit checked out.
type Block func(ctx context.Context, e *Execution, dir string) (bool, error)

// Execution is one attempt at running a job. It owns the job's output
// while it runs.
type Execution struct {
	Job      *job.Job
	Out      *output.Buffer
	Repo     Repository
	Executor *terminal.Executor

	config Config
	block  Block
	logger log.Logger

	mu              sync.Mutex
	onStart         []func()
	onFinish        []func() error
	finished        bool
	cancelRequested bool
	cancel          context.CancelFunc
	env             map[string]string
}

// New prepares an execution of the job. A nil block means running
// the default pipeline.
func New(j *job.Job, repo Repository, config Config, block Block) *Execution {
	if config.Hooks == nil {
		config.Hooks = &hooks.Registry{}
	}
	if config.Logger == nil {
		config.Logger = log.NewNopLogger()
	}
	if config.Client == nil {
		config.Client = http.DefaultClient
	}
	config.Setup = config.Setup.withDefaults()

	out := output.NewBuffer()
	opts := []terminal.Option{terminal.Verbose(config.Verbose)}
	if config.Timeout > 0 {
		opts = append(opts, terminal.Timeout(config.Timeout))
	}
	if config.CancelTimeout > 0 {
		opts = append(opts, terminal.CancelTimeout(config.CancelTimeout))
	}
	return &Execution{
		Job:      j,
		Out:      out,
		Repo:     repo,
		Executor: terminal.NewExecutor(out, opts...),
		config:   config,
		block:    block,
		logger:   log.With(config.Logger, "job", j.ID),
	}
}

// OnStart registers fn to be called when the execution starts.
func (e *Execution) OnStart(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStart = append(e.onStart, fn)
}

// OnFinish registers fn to be called when the execution has finished,
// however it finished. A failing callback doesn't stop the others.
func (e *Execution) OnFinish(fn func() error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFinish = append(e.onFinish, fn)
}

func (e *Execution) Descriptor() string {
	return e.Job.Project.Name + " - " + e.Job.Reference
}

// Perform runs the job to the end, and records how it went in the
// job's status. It returns once the output has been closed.
func (e *Execution) Perform(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	if e.cancelRequested {
		cancel()
	}
	e.mu.Unlock()

	begin := time.Now()
	e.Out.WriteEvent("", output.Started)
	e.mu.Lock()
	onStart := append([]func(){}, e.onStart...)
	e.mu.Unlock()
	for _, fn := range onStart {
		fn()
	}

	if err := e.Job.Transition(job.StatusRunning); err != nil {
		e.logger.Log("err", err)
		e.finish()
		return
	}

	ok, err := e.run(ctx)
	switch {
	case e.cancelled(ctx, err):
		e.transition(job.StatusCancelling)
	case err != nil:
		e.fail(err)
	case ok:
		e.transition(job.StatusSucceeded)
	default:
		e.transition(job.StatusFailed)
	}

	e.finish()
	if e.Job.Status() == job.StatusCancelling {
		e.transition(job.StatusCancelled)
	}

	status := e.Job.Status()
	jobDuration.With(fluxmetrics.LabelStatus, string(status)).Observe(time.Since(begin).Seconds())
	e.logger.Log("state", "done", "status", status, "took", time.Since(begin))
}

// run does the work in a working directory of its own, which is gone
// by the time it returns.
func (e *Execution) run(ctx context.Context) (bool, error) {
	dir, err := ioutil.TempDir(e.config.TempDir, fmt.Sprintf("deployer-%s-%s-", e.Job.Project.Permalink, e.Job.ID))
	if err != nil {
		return false, errors.Wrap(err, "making working directory")
	}
	defer func() {
		os.RemoveAll(dir)
		pruneCtx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()
		if err := e.Repo.PruneWorktrees(pruneCtx); err != nil {
			e.logger.Log("err", errors.Wrap(err, "pruning worktrees"))
		}
	}()

	if err := e.waitForExternalSetup(ctx); err != nil {
		return false, err
	}
	ready, err := e.setup(ctx, dir)
	if err != nil || !ready {
		if err == nil {
			err = errSetupFailed
		}
		return false, err
	}

	var ok bool
	if e.block != nil {
		ok, err = e.block(ctx, e, dir)
	} else {
		ok, err = e.execute(ctx, dir)
	}
	if err != nil || !ok {
		return ok, err
	}

	if e.Job.Deploy != nil {
		return e.config.Hooks.FireValidateDeploy(ctx, e.Job.Deploy, e.Out)
	}
	return true, nil
}

// errSetupFailed means the job can't go ahead, and the reason why has
// already been printed.
var errSetupFailed = errors.New("setting up the job failed")

// setup resolves the reference to a commit and, unless the deploy is
// to Kubernetes, checks out the commit into dir.
func (e *Execution) setup(ctx context.Context, dir string) (bool, error) {
	commit, tag, err := e.Repo.Resolve(ctx, e.Job.Reference)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.Out.Puts("Could not find commit for " + e.Job.Reference)
		if !fluxerr.IsMissing(err) {
			e.Out.Puts(err.Error())
		}
		e.logger.Log("ref", e.Job.Reference, "err", err)
		return false, nil
	}
	e.Job.UpdateGitReferences(commit, tag)
	e.Out.Puts("Commit: " + commit)

	if err := e.config.Hooks.FirePreCheckout(ctx, dir, e.Job, e.Out); err != nil {
		return false, err
	}
	if !e.kubernetes() {
		if err := e.Repo.CheckoutWorkingTree(ctx, dir, commit, e.fullCheckout()); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			e.Out.Puts("Could not check out " + commit + ": " + err.Error())
			return false, nil
		}
	}
	if err := e.config.Hooks.FirePostCheckout(ctx, dir, e.Job, e.Out); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Execution) fullCheckout() bool {
	stage := e.Job.Stage()
	return stage != nil && stage.FullCheckout
}

func (e *Execution) kubernetes() bool {
	stage := e.Job.Stage()
	return stage != nil && stage.Kubernetes
}

// execute is the default pipeline: run the commands, or deploy to
// Kubernetes.
func (e *Execution) execute(ctx context.Context, dir string) (bool, error) {
	e.Out.Printf("\n# Executing deploy\n")
	if e.Job.Deploy != nil {
		e.Out.Printf("# Deploy URL: %s\n", e.Job.URL)
	}

	if e.kubernetes() {
		executor := kubernetes.NewDeployExecutor(e.Job, e.Out, e.config.Clusters, e.Repo)
		executor.Builds = e.config.Builds
		executor.Logger = e.logger
		executor.AutoMinAvailable = e.config.AutoMinAvailable
		executor.RolloutTimeout = e.config.RolloutTimeout
		return executor.Execute(ctx)
	}

	commands, err := e.Commands(ctx, dir)
	if err != nil {
		return false, err
	}
	return e.Executor.Execute(ctx, commands...)
}

// Cancel asks the execution to stop. Running commands are
// interrupted; the job ends up cancelled once everything has been
// cleaned up. It doesn't wait for that to happen.
func (e *Execution) Cancel() {
	e.mu.Lock()
	e.cancelRequested = true
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Execution) cancelled(ctx context.Context, err error) bool {
	e.mu.Lock()
	requested := e.cancelRequested
	e.mu.Unlock()
	return requested || fluxerr.IsCancelled(err) || (err != nil && ctx.Err() == context.Canceled)
}

// Close ends the output of an execution that never ran, e.g., one
// still queued at shutdown, so anyone watching knows to look again.
func (e *Execution) Close() {
	e.Out.WriteEvent("", output.Reloaded)
	e.Out.Close()
}

// Skip ends the output of an execution that isn't going to run,
// saying why. Finish callbacks are still called.
func (e *Execution) Skip(reason string) {
	e.Out.Puts(reason)
	e.finish()
}

func (e *Execution) transition(to job.Status) {
	if err := e.Job.Transition(to); err != nil {
		e.logger.Log("err", err)
	}
}

// fail reports an unexpected error: it's printed for the user and,
// unless it's the user's to fix, passed on to whoever looks at errors.
func (e *Execution) fail(err error) {
	if err != errSetupFailed {
		e.Out.Puts("Job execution failed: " + err.Error())
		if fe, ok := errors.Cause(err).(*fluxerr.Error); ok && fe.Help != "" && fe.Help != fe.Error() {
			e.Out.Puts(fe.Help)
		}
		if !fluxerr.IsUser(err) && e.config.Notifier != nil {
			e.config.Notifier.Notify(err, map[string]interface{}{
				"job_id":  string(e.Job.ID),
				"project": e.Job.Project.Permalink,
			})
		}
	}
	if e.Job.Status().Active() {
		e.transition(job.StatusErrored)
	}
}

// finish runs the finish callbacks and closes the output, once.
func (e *Execution) finish() {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	onFinish := append([]func() error{}, e.onFinish...)
	e.mu.Unlock()

	for _, fn := range onFinish {
		if err := fn(); err != nil {
			msg := "Finish hook failed: " + err.Error()
			e.Out.Puts(msg)
			if e.config.Notifier != nil {
				e.config.Notifier.Notify(err, map[string]interface{}{
					"error_message": msg,
					"job_url":       e.Job.URL,
				})
			}
		}
	}

	e.Out.WriteEvent("", output.Finished)
	e.Out.Close()

	out := output.Scan(e.Out)
	e.Job.SetOutput(out)
	if e.config.Store != nil {
		if err := e.config.Store.SaveOutput(e.Job.ID, out); err != nil {
			e.logger.Log("err", errors.Wrap(err, "saving output"))
		}
	}
}
