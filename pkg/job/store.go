package job

import (
	"sync"

	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

// Store keeps jobs, so they can be looked at after they've run.
type Store interface {
	Put(*Job) error
	Get(ID) (*Job, error)
	// SaveOutput records the final output of a job.
	SaveOutput(ID, string) error
	List() ([]*Job, error)
}

// MemStore is a Store that forgets everything when the process
// exits. It holds at most Size jobs; when full, finished jobs are
// evicted oldest first. Jobs that are still active are never evicted.
type MemStore struct {
	// Size <= 0 means no limit
	Size int

	mu sync.RWMutex
	// in arrival order, which makes FIFO eviction easy
	jobs []*Job
}

func NewMemStore(size int) *MemStore {
	return &MemStore{Size: size}
}

func (s *MemStore) Put(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(j.ID); i >= 0 {
		s.jobs[i] = j
		return nil
	}
	s.evict()
	s.jobs = append(s.jobs, j)
	return nil
}

// evict makes room for one more job, if that can be done.
func (s *MemStore) evict() {
	if s.Size <= 0 {
		return
	}
	for len(s.jobs) >= s.Size {
		victim := -1
		for i := range s.jobs {
			if s.jobs[i].Status().Finished() {
				victim = i
				break
			}
		}
		if victim < 0 {
			return
		}
		s.jobs = append(s.jobs[:victim], s.jobs[victim+1:]...)
	}
}

func (s *MemStore) index(id ID) int {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MemStore) Get(id ID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return nil, fluxerr.MissingError(errors.Errorf("job %s not found", id))
	}
	return s.jobs[i], nil
}

func (s *MemStore) SaveOutput(id ID, output string) error {
	j, err := s.Get(id)
	if err != nil {
		return err
	}
	j.SetOutput(output)
	return nil
}

// List returns all the jobs, newest first.
func (s *MemStore) List() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, len(s.jobs))
	for i := range s.jobs {
		jobs[len(s.jobs)-1-i] = s.jobs[i]
	}
	return jobs, nil
}
