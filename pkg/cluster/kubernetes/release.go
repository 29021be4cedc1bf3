package kubernetes

import (
	"context"
	"sync"
	"time"

	"github.com/fluxcd/deployer/pkg/build"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/job"
	"github.com/fluxcd/deployer/pkg/project"
)

// FileReader reads files from a project's repository, as of a commit.
// *git.Repo is one.
type FileReader interface {
	FileContent(ctx context.Context, commit, path string) ([]byte, error)
}

// Release is one deploy of a project's commit to Kubernetes. It is
// made into one ReleaseDoc per deploy group and role.
type Release struct {
	ID        string
	Job       *job.Job
	Project   *project.Project
	Commit    string
	Tag       string
	Builds    []build.Build
	DeployURL string
	User      project.User
	// Used for disruption budgets when a config file doesn't say
	AutoMinAvailable string
	Now              func() time.Time

	templates *templateCache
}

// NewRelease makes a release of the job's resolved commit.
func NewRelease(j *job.Job, files FileReader, builds []build.Build) *Release {
	id := string(j.ID)
	if j.Deploy != nil {
		id = string(j.Deploy.ID)
	}
	return &Release{
		ID:        id,
		Job:       j,
		Project:   j.Project,
		Commit:    j.Commit(),
		Tag:       j.Tag(),
		Builds:    builds,
		DeployURL: j.URL,
		User:      j.User,
		Now:       time.Now,
		templates: newTemplateCache(files),
	}
}

// templateCache holds config files as they were read from the
// repository, so each file is read once per commit.
type templateCache struct {
	files FileReader
	mu    sync.Mutex
	raw   map[string][]byte
}

func newTemplateCache(files FileReader) *templateCache {
	return &templateCache{files: files, raw: map[string][]byte{}}
}

func (c *templateCache) get(ctx context.Context, commit, path string) ([]byte, error) {
	key := commit + ":" + path
	c.mu.Lock()
	defer c.mu.Unlock()
	if raw, ok := c.raw[key]; ok {
		return raw, nil
	}
	raw, err := c.files.FileContent(ctx, commit, path)
	if err != nil {
		if fluxerr.IsMissing(err) {
			return nil, MissingConfigFileError(path)
		}
		return nil, err
	}
	c.raw[key] = raw
	return raw, nil
}
