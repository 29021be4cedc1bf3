package execution

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/fluxcd/deployer/pkg/build"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/terminal"
)

// stageEnv describes the job, to its commands and to external setup
// hooks.
func (e *Execution) stageEnv() map[string]string {
	j := e.Job
	id := string(j.ID)
	if j.Deploy != nil {
		id = string(j.Deploy.ID)
	}
	tag := j.Tag()
	if tag == "" {
		tag = j.Commit()
	}
	env := map[string]string{
		"DEPLOY_ID":          id,
		"DEPLOY_URL":         j.URL,
		"DEPLOYER":           j.User.Email,
		"DEPLOYER_EMAIL":     j.User.Email,
		"DEPLOYER_NAME":      j.User.Name,
		"REFERENCE":          j.Reference,
		"REVISION":           j.Commit(),
		"TAG":                tag,
		"PROJECT_NAME":       j.Project.Name,
		"PROJECT_PERMALINK":  j.Project.Permalink,
		"PROJECT_REPOSITORY": j.Project.RepositoryURL,
	}
	if stage := j.Stage(); stage != nil {
		env["STAGE"] = stage.Permalink
		var groups []string
		for _, dg := range stage.DeployGroups {
			if dg.EnvValue != "" {
				groups = append(groups, dg.EnvValue)
			}
		}
		if len(groups) > 0 {
			env["DEPLOY_GROUPS"] = strings.Join(groups, " ")
		}
	}
	return env
}

// Env is the environment the job's commands run with. It's worked out
// the first time it's asked for, which has to be after the commit is
// known, and kept.
func (e *Execution) Env(ctx context.Context) (map[string]string, error) {
	e.mu.Lock()
	cached := e.env
	e.mu.Unlock()
	if cached == nil {
		env := e.stageEnv()
		if stage := e.Job.Stage(); stage != nil && stage.BuildsInEnvironment {
			builds, err := e.buildsEnv(ctx)
			if err != nil {
				return nil, err
			}
			for k, v := range builds {
				env[k] = v
			}
		}
		if e.Job.Deploy != nil {
			fromHooks, err := e.config.Hooks.FireEnv(ctx, e.Job.Deploy)
			if err != nil {
				return nil, err
			}
			for k, v := range fromHooks {
				env[k] = v
			}
		}
		cacheDir, err := e.artifactCacheDir()
		if err != nil {
			return nil, err
		}
		env["CACHE_DIR"] = cacheDir

		e.mu.Lock()
		e.env = env
		e.mu.Unlock()
		cached = env
	}

	result := make(map[string]string, len(cached))
	for k, v := range cached {
		result[k] = v
	}
	return result, nil
}

// Commands are the shell commands to run for the job: change to the
// working directory, export the environment, then the job's own.
func (e *Execution) Commands(ctx context.Context, dir string) ([]string, error) {
	env, err := e.Env(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	commands := []string{"cd " + terminal.Quote(dir)}
	for _, k := range keys {
		commands = append(commands, "export "+k+"="+terminal.Quote(env[k]))
	}
	return append(commands, e.Job.Commands...), nil
}

// artifactCacheDir is somewhere commands can keep things between
// jobs of the same project.
func (e *Execution) artifactCacheDir() (string, error) {
	root, err := e.Repo.CacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, "artifacts")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "making artifact cache directory")
	}
	return dir, nil
}

// buildsEnv waits for the images built from the commit, pulls them so
// commands can use them without logging in, and gives a variable for
// each.
func (e *Execution) buildsEnv(ctx context.Context) (map[string]string, error) {
	if e.config.Builds == nil {
		return nil, fluxerr.UserError("stage %s wants builds in its environment, but there is nowhere to look for builds", e.Job.Stage().Permalink)
	}
	finder := build.NewFinder(e.config.Builds, e.Out)
	if e.config.BuildInterval > 0 {
		finder.Interval = e.config.BuildInterval
	}
	if e.config.BuildTimeout > 0 {
		finder.Timeout = e.config.BuildTimeout
	}
	builds, err := finder.EnsureSucceededBuilds(ctx, e.Job.Project.Permalink, e.Job.Commit(), true)
	if err != nil {
		return nil, err
	}

	var pulls []string
	for _, b := range builds {
		pulls = append(pulls, e.Executor.VerboseCommand("docker pull --quiet "+terminal.Quote(b.Image)))
	}
	if len(pulls) > 0 {
		err := e.Executor.Quiet(func() error {
			_, err := e.Executor.Execute(ctx, pulls...)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	env := map[string]string{}
	for _, b := range builds {
		env[b.EnvName()] = b.Image
	}
	return env, nil
}
