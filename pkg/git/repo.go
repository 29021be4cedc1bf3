package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultTimeout = 20 * time.Second

	mirrorDir = "mirror"
	cacheDir  = "cache"
)

var ErrNotCloned = errors.New("git repo has not been cloned yet")

// Repo is a mirror of a project's upstream repository, from which
// references are resolved, files read and working trees checked out.
type Repo struct {
	// As supplied to constructor
	origin  Remote
	dir     string
	timeout time.Duration

	// Guards the mirror; an update must not run alongside a read.
	mu     sync.RWMutex
	cloned bool
}

type Option interface {
	apply(*Repo)
}

type optionFunc func(*Repo)

func (f optionFunc) apply(r *Repo) {
	f(r)
}

type Timeout time.Duration

func (t Timeout) apply(r *Repo) {
	r.timeout = time.Duration(t)
}

// NewRepo constructs a repo that will mirror origin under dir. Nothing
// is fetched until Update is called.
func NewRepo(origin Remote, dir string, opts ...Option) *Repo {
	r := &Repo{
		origin:  origin,
		dir:     dir,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt.apply(r)
	}
	return r
}

// Origin returns the Remote with which the Repo was constructed.
func (r *Repo) Origin() Remote {
	return r.origin
}

// Dir returns the local directory holding the mirror clone.
func (r *Repo) Dir() string {
	return filepath.Join(r.dir, mirrorDir)
}

// CacheDir returns a directory, next to the mirror, that commands can
// use to keep artifacts between jobs. It is created if necessary.
func (r *Repo) CacheDir() (string, error) {
	dir := filepath.Join(r.dir, cacheDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Update clones the mirror if it's not there yet, and fetches from
// upstream otherwise.
func (r *Repo) Update(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := os.Stat(filepath.Join(r.Dir(), "HEAD")); err == nil {
		if err := fetch(ctx, r.Dir()); err != nil {
			return err
		}
		r.cloned = true
		return nil
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return err
	}
	if err := mirror(ctx, r.Dir(), r.origin.URL); err != nil {
		os.RemoveAll(r.Dir())
		return CloningError(r.origin.SafeURL(), err)
	}
	r.cloned = true
	return nil
}

func (r *Repo) ready() error {
	if !r.cloned {
		return ErrNotCloned
	}
	return nil
}

// Resolve updates the mirror and then finds the commit that ref
// points at, along with the nearest tag (which is empty when there
// are no tags to describe it by).
func (r *Repo) Resolve(ctx context.Context, ref string) (commit, tag string, err error) {
	if err := r.Update(ctx); err != nil {
		return "", "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	commit, err = refRevision(ctx, r.Dir(), ref)
	if err != nil {
		return "", "", err
	}
	if commit == "" {
		return "", "", UnknownRefError(ref)
	}
	// best effort; most repos have untagged commits
	if t, err := describe(ctx, r.Dir(), commit); err == nil {
		tag = t
	}
	return commit, tag, nil
}

// CheckoutWorkingTree creates a working tree for ref at dir, which
// must not exist or be empty. A full checkout includes submodules.
func (r *Repo) CheckoutWorkingTree(ctx context.Context, dir, ref string, full bool) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	if err := addWorktree(ctx, r.Dir(), dir, ref); err != nil {
		return err
	}
	if full {
		return updateSubmodules(ctx, dir)
	}
	return nil
}

// PruneWorktrees forgets about working trees that have since been
// removed from disk.
func (r *Repo) PruneWorktrees(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return nil
	}
	return pruneWorktrees(ctx, r.Dir())
}

// FileContent reads the file at path as of commit.
func (r *Repo) FileContent(ctx context.Context, commit, path string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.ready(); err != nil {
		return nil, err
	}

	object := commit + ":" + strings.TrimPrefix(path, "/")
	if !objectExists(ctx, r.Dir(), object) {
		return nil, MissingFileError(commit, path)
	}
	return show(ctx, r.Dir(), object)
}

// remove deletes the mirror from disk, once nothing is reading from
// it. Anything that tries to afterwards is told it's not cloned.
func (r *Repo) remove() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cloned = false
	return os.RemoveAll(r.dir)
}
