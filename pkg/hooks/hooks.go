// Package hooks lets other parts of the deployer take part in a job,
// by registering functions that are called at set points while it
// runs.
package hooks

import (
	"context"
	"sync"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/output"
)

// CheckoutHook is called before and after the working tree for a
// job is checked out into dir.
type CheckoutHook func(ctx context.Context, dir string, j *job.Job, out *output.Buffer) error

// ValidateDeployHook decides whether a deploy that ran without
// failing actually succeeded.
type ValidateDeployHook func(ctx context.Context, d *job.Deploy, out *output.Buffer) (bool, error)

// EnvHook contributes variables to the environment of a deploy's
// commands.
type EnvHook func(ctx context.Context, d *job.Deploy) (map[string]string, error)

// Registry holds the hooks registered for each point. The zero value
// is ready to use, and has no hooks.
type Registry struct {
	mu             sync.RWMutex
	preCheckout    []CheckoutHook
	postCheckout   []CheckoutHook
	validateDeploy []ValidateDeployHook
	env            []EnvHook
}

func (r *Registry) OnPreCheckout(h CheckoutHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preCheckout = append(r.preCheckout, h)
}

func (r *Registry) OnPostCheckout(h CheckoutHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postCheckout = append(r.postCheckout, h)
}

func (r *Registry) OnValidateDeploy(h ValidateDeployHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validateDeploy = append(r.validateDeploy, h)
}

func (r *Registry) OnEnv(h EnvHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env = append(r.env, h)
}

// FirePreCheckout calls every pre-checkout hook, and returns the
// errors from all of them, if any.
func (r *Registry) FirePreCheckout(ctx context.Context, dir string, j *job.Job, out *output.Buffer) error {
	r.mu.RLock()
	hs := r.preCheckout
	r.mu.RUnlock()
	return fireCheckout(ctx, hs, dir, j, out)
}

// FirePostCheckout calls every post-checkout hook, and returns the
// errors from all of them, if any.
func (r *Registry) FirePostCheckout(ctx context.Context, dir string, j *job.Job, out *output.Buffer) error {
	r.mu.RLock()
	hs := r.postCheckout
	r.mu.RUnlock()
	return fireCheckout(ctx, hs, dir, j, out)
}

func fireCheckout(ctx context.Context, hs []CheckoutHook, dir string, j *job.Job, out *output.Buffer) error {
	var errs []error
	for _, h := range hs {
		if err := h(ctx, dir, j, out); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// FireValidateDeploy calls every validation hook; the deploy is valid
// only if they all say so. All hooks are called even once one has
// said no, since they may report something useful.
func (r *Registry) FireValidateDeploy(ctx context.Context, d *job.Deploy, out *output.Buffer) (bool, error) {
	r.mu.RLock()
	hs := r.validateDeploy
	r.mu.RUnlock()

	valid := true
	for _, h := range hs {
		ok, err := h(ctx, d, out)
		if err != nil {
			return false, err
		}
		valid = valid && ok
	}
	return valid, nil
}

// FireEnv merges the contributions of every env hook, in the order
// the hooks were registered; later hooks win.
func (r *Registry) FireEnv(ctx context.Context, d *job.Deploy) (map[string]string, error) {
	r.mu.RLock()
	hs := r.env
	r.mu.RUnlock()

	env := map[string]string{}
	for _, h := range hs {
		vars, err := h(ctx, d)
		if err != nil {
			return nil, err
		}
		for k, v := range vars {
			env[k] = v
		}
	}
	return env, nil
}
