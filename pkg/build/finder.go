package build

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/output"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 10 * time.Minute
)

// Finder waits for the builds of a commit to be ready to deploy.
type Finder struct {
	Lookup   Lookup
	Out      *output.Buffer
	Interval time.Duration
	Timeout  time.Duration
}

func NewFinder(lookup Lookup, out *output.Buffer) *Finder {
	return &Finder{
		Lookup:   lookup,
		Out:      out,
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
	}
}

// EnsureSucceededBuilds waits until every build of the commit has
// finished, and returns them if they all succeeded. A failed build,
// or no builds at all when builds are required, is the user's
// problem. Running out of time waiting is transient.
func (f *Finder) EnsureSucceededBuilds(ctx context.Context, project, commit string, required bool) ([]Build, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	var builds []Build
	announced := false
	err := wait.PollImmediateUntil(f.Interval, func() (bool, error) {
		found, err := f.Lookup.Lookup(ctx, project, commit)
		if err != nil {
			if ctx.Err() != nil {
				// let the poll notice it's been stopped
				return false, nil
			}
			return false, err
		}
		if len(found) == 0 && !required {
			return true, nil
		}
		var waiting []string
		for _, b := range found {
			switch b.Status {
			case StatusSucceeded:
			case StatusFailed, StatusCancelled:
				return false, fluxerr.UserError("build %s is %s", b.Name, b.Status)
			default:
				waiting = append(waiting, b.Name)
			}
		}
		if len(found) == 0 || len(waiting) > 0 {
			if !announced {
				if len(found) == 0 {
					f.Out.Puts(fmt.Sprintf("Waiting for builds of %s to be created", commit))
				} else {
					f.Out.Puts(fmt.Sprintf("Waiting for builds to finish: %s", strings.Join(waiting, ", ")))
				}
				announced = true
			}
			return false, nil
		}
		builds = found
		return true, nil
	}, ctx.Done())

	switch {
	case err == wait.ErrWaitTimeout && ctx.Err() == context.DeadlineExceeded:
		return nil, fluxerr.TransientError(errors.Errorf("timed out after %s waiting for builds of %s", f.Timeout, commit))
	case err == wait.ErrWaitTimeout:
		return nil, fluxerr.ErrCancelled
	case err != nil:
		return nil, err
	}
	for _, b := range builds {
		f.Out.Puts(fmt.Sprintf("Using build %s: %s", b.Name, b.Image))
	}
	return builds, nil
}
