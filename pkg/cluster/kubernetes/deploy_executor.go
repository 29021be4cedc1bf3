package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	pkgerrors "github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/fluxcd/deployer/pkg/build"
	"github.com/fluxcd/deployer/pkg/cluster"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/output"
)

const (
	DefaultRolloutInterval = 2 * time.Second
	DefaultRevertTimeout   = 5 * time.Minute
)

// DeployExecutor deploys a job's stage to the Kubernetes clusters of
// its deploy groups.
type DeployExecutor struct {
	Job      *job.Job
	Out      *output.Buffer
	Clusters cluster.Clusters
	Files    FileReader
	// Where to find images built from the commit; nil means there
	// are none
	Builds build.Lookup
	Logger log.Logger

	AutoMinAvailable string
	// How long to wait for the deployed pods to be ready; zero means
	// don't wait
	RolloutTimeout  time.Duration
	RolloutInterval time.Duration
	// Reverting carries on after the job has been cancelled, for at
	// most this long
	RevertTimeout time.Duration
}

func NewDeployExecutor(j *job.Job, out *output.Buffer, clusters cluster.Clusters, files FileReader) *DeployExecutor {
	return &DeployExecutor{
		Job:             j,
		Out:             out,
		Clusters:        clusters,
		Files:           files,
		Logger:          log.NewNopLogger(),
		RolloutInterval: DefaultRolloutInterval,
		RevertTimeout:   DefaultRevertTimeout,
	}
}

// Execute deploys every role to every deploy group of the stage. If
// anything goes wrong part way, what was deployed is reverted. It
// returns false when the cluster refused a change, or the deploy
// didn't roll out in time; other problems are errors.
func (e *DeployExecutor) Execute(ctx context.Context) (bool, error) {
	stage := e.Job.Stage()
	if stage == nil {
		return false, fmt.Errorf("job %s is not a deploy", e.Job.ID)
	}

	var builds []build.Build
	if e.Builds != nil {
		var err error
		builds, err = build.NewFinder(e.Builds, e.Out).EnsureSucceededBuilds(ctx, e.Job.Project.Permalink, e.Job.Commit(), false)
		if err != nil {
			return false, err
		}
	}

	release := NewRelease(e.Job, e.Files, builds)
	release.AutoMinAvailable = e.AutoMinAvailable
	docs, err := e.releaseDocs(release)
	if err != nil {
		return false, err
	}
	if err := e.validate(ctx, docs); err != nil {
		return false, err
	}
	for _, doc := range docs {
		e.Out.Printf("Deploying %s to cluster %s (%d replicas)\n", doc, doc.Cluster.Name, doc.ReplicaTarget)
	}

	var prerequisites, rest []*ReleaseDoc
	for _, doc := range docs {
		if doc.Prerequisite() {
			prerequisites = append(prerequisites, doc)
		} else {
			rest = append(rest, doc)
		}
	}

	var deployed []*ReleaseDoc
	for _, group := range [][]*ReleaseDoc{prerequisites, rest} {
		if len(group) == 0 {
			continue
		}
		for _, doc := range group {
			deployed = append(deployed, doc)
			if err := doc.Deploy(ctx); err != nil {
				e.revert(deployed)
				if fluxerr.IsConflict(err) {
					e.Out.Printf("Deploy of %s was rejected by the cluster: %s\n", doc, err)
					return false, nil
				}
				return false, pkgerrors.Wrapf(err, "deploying %s", doc)
			}
		}
		ok, err := e.waitForRollout(ctx, group)
		if err != nil || !ok {
			e.revert(deployed)
			return false, err
		}
	}
	return true, nil
}

// releaseDocs makes one release document per deploy group and role
// that has replicas there.
func (e *DeployExecutor) releaseDocs(release *Release) ([]*ReleaseDoc, error) {
	var docs []*ReleaseDoc
	for _, dg := range e.Job.Stage().DeployGroups {
		c, err := e.Clusters.Cluster(dg.Cluster)
		if err != nil {
			return nil, err
		}
		for _, role := range release.Project.Roles {
			doc := NewReleaseDoc(release, dg, role, c)
			if doc.ReplicaTarget <= 0 {
				continue
			}
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return nil, fluxerr.UserError("nothing to deploy: no role has replicas in the deploy groups of stage %s", e.Job.Stage().Permalink)
	}
	return docs, nil
}

// validate checks all the release documents before any is deployed,
// and reports every problem found.
func (e *DeployExecutor) validate(ctx context.Context, docs []*ReleaseDoc) error {
	var problems []string
	for _, doc := range docs {
		if err := doc.Validate(ctx); err != nil {
			if !fluxerr.IsUser(err) && !fluxerr.IsMissing(err) {
				return err
			}
			problems = append(problems, fmt.Sprintf("%s: %s", doc, err))
		}
	}
	if len(problems) > 0 {
		return fluxerr.UserError("invalid Kubernetes config:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// revert puts back release documents in the reverse of the order they
// were deployed. This has to happen even if the job was cancelled.
func (e *DeployExecutor) revert(docs []*ReleaseDoc) {
	ctx, cancel := context.WithTimeout(context.Background(), e.RevertTimeout)
	defer cancel()
	for i := len(docs) - 1; i >= 0; i-- {
		doc := docs[i]
		if !doc.Deployed() {
			continue
		}
		e.Out.Printf("Reverting %s\n", doc)
		if err := doc.Revert(ctx); err != nil {
			e.Out.Printf("Failed to revert %s: %s\n", doc, err)
			e.Logger.Log("job", e.Job.ID, "doc", doc.String(), "err", err)
		}
	}
}

// waitForRollout waits for the pods of the release documents to be
// ready, if the executor is meant to wait at all.
func (e *DeployExecutor) waitForRollout(ctx context.Context, docs []*ReleaseDoc) (bool, error) {
	if e.RolloutTimeout <= 0 {
		return true, nil
	}
	for _, doc := range docs {
		desired, err := doc.DesiredPodCount(ctx)
		if err != nil {
			return false, err
		}
		e.Out.Printf("Waiting for %d pods of %s\n", desired, doc)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.RolloutTimeout)
	defer cancel()
	err := wait.PollImmediateUntil(e.RolloutInterval, func() (bool, error) {
		for _, doc := range docs {
			ready, err := doc.Ready(waitCtx)
			if err != nil {
				if waitCtx.Err() != nil {
					return false, nil
				}
				return false, err
			}
			if !ready {
				return false, nil
			}
		}
		return true, nil
	}, waitCtx.Done())
	switch {
	case err == nil:
		e.Out.Puts("Rollout complete")
		return true, nil
	case errors.Is(ctx.Err(), context.Canceled):
		return false, fluxerr.ErrCancelled
	case err == wait.ErrWaitTimeout:
		e.Out.Printf("Timed out after %s waiting for rollout\n", e.RolloutTimeout)
		return false, nil
	}
	return false, err
}
