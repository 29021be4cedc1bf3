package git

import (
	"context"
	"path/filepath"
	"sync"
	"time"
)

// Maintains the git mirrors of several projects as a set, keyed by
// project permalink, each in its own directory under a common root.
//
// The advantage of it being a set is that you can add to it
// idempotently; if you need a repo to be mirrored, add it, and you
// get back either the existing mirror or a new one.
type Mirrors struct {
	root string

	reposMu sync.Mutex
	repos   map[string]*Repo
}

func NewMirrors(root string) *Mirrors {
	return &Mirrors{
		root:  root,
		repos: make(map[string]*Repo),
	}
}

// Mirror returns the repo tracked under name, creating it if
// necessary. The bool indicates whether the repo was already present.
// If the remote has changed (e.g., the project was pointed at another
// repository) the old mirror is thrown away, after any reads from it
// have finished.
func (m *Mirrors) Mirror(name string, remote Remote, options ...Option) (*Repo, bool) {
	m.reposMu.Lock()
	defer m.reposMu.Unlock()

	repo, ok := m.repos[name]
	if ok && repo.Origin() == remote {
		return repo, true
	}
	if ok {
		repo.remove()
	}
	dir := filepath.Join(m.root, name)
	repo = NewRepo(remote, dir, options...)
	m.repos[name] = repo
	return repo, false
}

// Get returns the named repo or nil, and a bool indicating whether
// the repo is being mirrored.
func (m *Mirrors) Get(name string) (*Repo, bool) {
	m.reposMu.Lock()
	defer m.reposMu.Unlock()
	r, ok := m.repos[name]
	return r, ok
}

// Remove stops tracking the named repo, and cleans up after it
// (i.e., removes filesystem traces), if it is being tracked.
func (m *Mirrors) Remove(name string) error {
	m.reposMu.Lock()
	defer m.reposMu.Unlock()
	if repo, ok := m.repos[name]; ok {
		delete(m.repos, name)
		return repo.remove()
	}
	return nil
}

// RefreshAll fetches all the repos. The given timeout is the timeout
// per mirror and _not_ the timeout for the whole operation. It
// returns a collection of eventual errors it encountered.
func (m *Mirrors) RefreshAll(timeout time.Duration) []error {
	m.reposMu.Lock()
	repos := make([]*Repo, 0, len(m.repos))
	for _, r := range m.repos {
		repos = append(repos, r)
	}
	m.reposMu.Unlock()

	var errs []error
	for _, repo := range repos {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := repo.Update(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	return errs
}
