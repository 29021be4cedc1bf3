package build

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/docker/distribution/reference"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished is true once the build will not change status again.
func (s Status) Finished() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Build is an image built from a project at some commit.
type Build struct {
	// Name is what the build is known as, e.g., the Dockerfile it was
	// built from
	Name string `json:"name"`
	// Image is the pushed image, by digest, e.g.,
	// `registry.example.com/app@sha256:...`
	Image     string    `json:"image"`
	Commit    string    `json:"commit"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Reference parses the build's image, which must be pinned to a
// digest.
func (b Build) Reference() (reference.Canonical, error) {
	named, err := reference.ParseNormalizedNamed(b.Image)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s: parsing image %q", b.Name, b.Image)
	}
	canonical, ok := named.(reference.Canonical)
	if !ok {
		return nil, fmt.Errorf("build %s: image %q is not pinned to a digest", b.Name, b.Image)
	}
	return canonical, nil
}

// Validate checks that a build has what's needed to be used in a
// deploy.
func (b Build) Validate() error {
	if b.Name == "" {
		return errors.New("build has no name")
	}
	// only builds that succeeded have an image
	if b.Status != StatusSucceeded {
		return nil
	}
	ref, err := b.Reference()
	if err != nil {
		return err
	}
	if _, err := digest.Parse(ref.Digest().String()); err != nil {
		return errors.Wrapf(err, "build %s", b.Name)
	}
	return nil
}

var envUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// EnvName is the variable that holds the build's image in the
// environment of a deploy's commands.
func (b Build) EnvName() string {
	return "BUILD_FROM_" + envUnsafe.ReplaceAllString(b.Name, "_")
}

// ForImage finds the build of the repository that image (which may
// be tagged, or not) comes from.
func ForImage(builds []Build, image string) (Build, bool) {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return Build{}, false
	}
	for _, b := range builds {
		ref, err := b.Reference()
		if err != nil {
			continue
		}
		if ref.Name() == named.Name() {
			return b, true
		}
	}
	return Build{}, false
}

// Lookup finds the builds of a project's commit.
type Lookup interface {
	Lookup(ctx context.Context, project, commit string) ([]Build, error)
}

// MemLookup is a Lookup of builds reported to it, e.g., by CI over
// the API.
type MemLookup struct {
	mu     sync.RWMutex
	builds map[string]map[string][]Build
}

func NewMemLookup() *MemLookup {
	return &MemLookup{builds: map[string]map[string][]Build{}}
}

// Put records a build, replacing any build of the same name at the
// same commit.
func (l *MemLookup) Put(project string, b Build) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.Commit == "" {
		return errors.New("build has no commit")
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	commits, ok := l.builds[project]
	if !ok {
		commits = map[string][]Build{}
		l.builds[project] = commits
	}
	for i := range commits[b.Commit] {
		if commits[b.Commit][i].Name == b.Name {
			commits[b.Commit][i] = b
			return nil
		}
	}
	commits[b.Commit] = append(commits[b.Commit], b)
	return nil
}

func (l *MemLookup) Lookup(ctx context.Context, project, commit string) ([]Build, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	builds := l.builds[project][commit]
	return append([]Build(nil), builds...), nil
}
