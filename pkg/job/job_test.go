package job

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/project"
)

var (
	testProject = &project.Project{Name: "Example", Permalink: "example"}
	testStage   = &project.Stage{Name: "Staging", Permalink: "staging", Commands: []string{"make deploy"}}
	testUser    = project.User{Name: "Jo", Email: "jo@example.com"}
)

func TestQueue(t *testing.T) {
	shutdown := make(chan struct{})
	wg := &sync.WaitGroup{}
	defer close(shutdown)
	q := NewQueue(shutdown, wg)
	if q.Len() != 0 {
		t.Errorf("Fresh queue has length %d (!= 0)", q.Len())
	}

	select {
	case <-q.Ready():
		t.Error("Value from q.Ready before any values enqueued")
	default:
	}

	// When this proceeds, the value will be in the queue
	q.Enqueue(&Job{ID: "job 1"})
	q.Sync()
	if q.Len() != 1 {
		t.Errorf("Queue has length %d (!= 1) after enqueuing one item (and sync)", q.Len())
	}

	// This should proceed eventually
	j := <-q.Ready()
	if j.ID != "job 1" {
		t.Errorf("Dequeued odd job: %#v", j)
	}
	q.Sync()
	if q.Len() != 0 {
		t.Errorf("Queue has length %d (!= 0) after dequeuing only item (and sync)", q.Len())
	}

	// This should not proceed, because the queue is empty
	select {
	case j = <-q.Ready():
		t.Errorf("Dequeued from empty queue: %#v", j)
	default:
	}
}

func TestQueueRemove(t *testing.T) {
	shutdown := make(chan struct{})
	wg := &sync.WaitGroup{}
	q := NewQueue(shutdown, wg)

	for _, id := range []ID{"a", "b", "c"} {
		q.Enqueue(&Job{ID: id})
	}
	q.Sync()
	assert.Equal(t, 2, q.Position("b"))
	assert.Equal(t, 0, q.Position("nope"))

	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Position("c"))

	j := <-q.Ready()
	assert.Equal(t, ID("a"), j.ID)
	j = <-q.Ready()
	assert.Equal(t, ID("c"), j.ID)

	close(shutdown)
	wg.Wait()
	// a stopped queue drops jobs, rather than blocking
	q.Enqueue(&Job{ID: "d"})
	assert.False(t, q.Remove("d"))
	assert.Equal(t, 0, q.Len())
}

func TestTransitions(t *testing.T) {
	for _, c := range []struct {
		name  string
		path  []Status
		final Status
		bad   Status
	}{
		{"success", []Status{StatusRunning, StatusSucceeded}, StatusSucceeded, StatusRunning},
		{"failure", []Status{StatusRunning, StatusFailed}, StatusFailed, StatusSucceeded},
		{"error", []Status{StatusRunning, StatusErrored}, StatusErrored, StatusCancelling},
		{"cancel", []Status{StatusRunning, StatusCancelling, StatusCancelled}, StatusCancelled, StatusRunning},
		{"cancel while queued", []Status{StatusCancelled}, StatusCancelled, StatusRunning},
	} {
		t.Run(c.name, func(t *testing.T) {
			j := New(testProject, testUser, "master", nil)
			assert.Equal(t, StatusPending, j.Status())
			for _, s := range c.path {
				require.NoError(t, j.Transition(s))
			}
			assert.Equal(t, c.final, j.Status())
			assert.True(t, j.Status().Finished())
			err := j.Transition(c.bad)
			assert.Equal(t, &TransitionError{From: c.final, To: c.bad}, err)
		})
	}
}

func TestCancellingOnlyGoesToCancelled(t *testing.T) {
	j := New(testProject, testUser, "master", nil)
	require.NoError(t, j.Transition(StatusRunning))
	require.NoError(t, j.Transition(StatusCancelling))
	assert.True(t, j.Status().Active())
	assert.Error(t, j.Transition(StatusSucceeded))
	assert.Error(t, j.Transition(StatusErrored))
}

func TestDeployView(t *testing.T) {
	d := NewDeploy(testProject, testStage, testUser, "v1.0")
	assert.True(t, d.Job.IsDeploy())
	assert.Equal(t, testStage, d.Job.Stage())
	assert.Equal(t, []string{"make deploy"}, d.Job.Commands)

	d.Job.UpdateGitReferences("abc123", "v1.0")
	bytes, err := json.Marshal(d.Job)
	require.NoError(t, err)

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes, &view))
	assert.Equal(t, "staging", view["stage"])
	assert.Equal(t, "abc123", view["commit"])
	assert.Equal(t, "pending", view["status"])
	assert.Equal(t, string(d.ID), view["deploy_id"])
}

func TestMemStore(t *testing.T) {
	s := NewMemStore(2)
	first := New(testProject, testUser, "a", nil)
	second := New(testProject, testUser, "b", nil)
	third := New(testProject, testUser, "c", nil)

	require.NoError(t, s.Put(first))
	require.NoError(t, s.Put(second))
	// neither is finished, so nothing can be evicted
	require.NoError(t, s.Put(third))
	all, _ := s.List()
	assert.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)

	require.NoError(t, first.Transition(StatusCancelled))
	fourth := New(testProject, testUser, "d", nil)
	require.NoError(t, s.Put(fourth))
	_, err := s.Get(first.ID)
	assert.True(t, errors.IsMissing(err))

	require.NoError(t, s.SaveOutput(second.ID, "done\n"))
	got, err := s.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, "done\n", got.Output())
}
