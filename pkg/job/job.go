package job

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxcd/deployer/pkg/project"
)

type ID string

// NewID gives a fresh, random job ID.
func NewID() ID {
	return ID(uuid.New().String())
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusErrored    Status = "errored"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
)

// The statuses a job may move to from each status. Terminal statuses
// have no entry.
var transitions = map[Status][]Status{
	StatusPending:    {StatusRunning, StatusCancelling, StatusCancelled, StatusErrored},
	StatusRunning:    {StatusSucceeded, StatusFailed, StatusErrored, StatusCancelling},
	StatusCancelling: {StatusCancelled},
}

// Active is true for statuses from which the job can still move.
func (s Status) Active() bool {
	_, ok := transitions[s]
	return ok
}

// Finished is true for terminal statuses.
func (s Status) Finished() bool {
	return !s.Active()
}

type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job cannot go from %s to %s", e.From, e.To)
}

// Job is one run of commands, or one deploy, of a project at some
// reference. Its status, resolved commit and output are updated as
// it runs, and are fixed once it has finished.
type Job struct {
	ID        ID
	Deploy    *Deploy
	Project   *project.Project
	User      project.User
	Reference string
	Commands  []string
	// Where to see the job, for people
	URL       string
	CreatedAt time.Time

	mu        sync.RWMutex
	status    Status
	commit    string
	tag       string
	output    string
	updatedAt time.Time
}

// New creates a pending job. Commands are taken from the stage when
// it is a deploy.
func New(p *project.Project, user project.User, reference string, commands []string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        NewID(),
		Project:   p,
		User:      user,
		Reference: reference,
		Commands:  commands,
		CreatedAt: now,
		status:    StatusPending,
		updatedAt: now,
	}
}

func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Transition moves the job to the status given, if that is a legal
// move from where it is.
func (j *Job) Transition(to Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, allowed := range transitions[j.status] {
		if allowed == to {
			j.status = to
			j.updatedAt = time.Now().UTC()
			return nil
		}
	}
	return &TransitionError{From: j.status, To: to}
}

// UpdateGitReferences records what the job's reference resolved to.
func (j *Job) UpdateGitReferences(commit, tag string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.commit = commit
	j.tag = tag
}

func (j *Job) Commit() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.commit
}

// Tag is the tag describing the commit, if there is one.
func (j *Job) Tag() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.tag
}

// SetOutput records the final output of the job.
func (j *Job) SetOutput(out string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.output = out
}

func (j *Job) Output() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.output
}

// IsDeploy is true when the job is deploying a stage, rather than
// running commands ad hoc.
func (j *Job) IsDeploy() bool {
	return j.Deploy != nil
}

// Stage is the stage being deployed, or nil.
func (j *Job) Stage() *project.Stage {
	if j.Deploy == nil {
		return nil
	}
	return j.Deploy.Stage
}

// View is what gets shown of a job over the API.
type View struct {
	ID        ID        `json:"id"`
	DeployID  ID        `json:"deploy_id,omitempty"`
	Project   string    `json:"project"`
	Stage     string    `json:"stage,omitempty"`
	User      string    `json:"user"`
	Reference string    `json:"reference"`
	Status    Status    `json:"status"`
	Commit    string    `json:"commit,omitempty"`
	Tag       string    `json:"tag,omitempty"`
	Output    string    `json:"output,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Where a pending job is in the queue, from 1; only the daemon
	// knows this
	Position int `json:"position,omitempty"`
}

func (j *Job) View() View {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v := View{
		ID:        j.ID,
		Project:   j.Project.Permalink,
		User:      j.User.Email,
		Reference: j.Reference,
		Status:    j.status,
		Commit:    j.commit,
		Tag:       j.tag,
		Output:    j.output,
		URL:       j.URL,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.updatedAt,
	}
	if j.Deploy != nil {
		v.DeployID = j.Deploy.ID
		v.Stage = j.Deploy.Stage.Permalink
	}
	return v
}

func (j *Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.View())
}

// Deploy is a job that deploys a project's stage.
type Deploy struct {
	ID    ID
	Stage *project.Stage
	URL   string
	Job   *Job
}

// NewDeploy creates a pending deploy of stage, running the stage's
// commands.
func NewDeploy(p *project.Project, stage *project.Stage, user project.User, reference string) *Deploy {
	j := New(p, user, reference, stage.Commands)
	d := &Deploy{
		ID:    NewID(),
		Stage: stage,
		Job:   j,
	}
	j.Deploy = d
	return d
}
