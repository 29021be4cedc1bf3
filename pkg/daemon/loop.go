package daemon

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/fluxcd/deployer/pkg/job"
)

// DefaultWorkers is how many jobs run at once, when not configured.
const DefaultWorkers = 2

// Loop starts the workers, which run jobs from the queue until stop
// is closed. A job that's running when stop is closed runs to the end.
func (d *Daemon) Loop(stop <-chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	workers := d.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go d.work(stop, wg, log.With(logger, "worker", strconv.Itoa(i)))
	}
}

func (d *Daemon) work(stop <-chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	defer wg.Done()
	for {
		select {
		case <-stop:
			logger.Log("stopping", "true")
			return
		case j := <-d.Jobs.Ready():
			queueLength.Set(float64(d.Jobs.Len()))
			d.run(j, log.With(logger, "job", j.ID))
		}
	}
}

func (d *Daemon) run(j *job.Job, logger log.Logger) {
	q, ok := d.execution(j.ID)
	if !ok {
		logger.Log("err", "job dequeued with no execution")
		return
	}
	defer d.forget(j.ID)
	queueDuration.Observe(time.Since(q.enqueuedAt).Seconds())

	if status := j.Status(); status != job.StatusPending {
		logger.Log("state", "skipped", "status", status)
		return
	}

	runningJobs.Add(1)
	defer runningJobs.Add(-1)
	logger.Log("state", "in-progress", "project", j.Project.Permalink, "ref", j.Reference)
	q.exec.Perform(context.Background())
}

// Shutdown ends the output of the jobs still in the queue, so anyone
// following them knows to look again, and marks them cancelled. Call
// it after the workers have stopped.
func (d *Daemon) Shutdown() {
	d.Jobs.ForEach(func(_ int, j *job.Job) bool {
		q, ok := d.execution(j.ID)
		if !ok || j.Status() != job.StatusPending {
			return true
		}
		q.exec.Close()
		if err := j.Transition(job.StatusCancelled); err != nil {
			d.Logger.Log("job", j.ID, "err", err)
		}
		d.forget(j.ID)
		return true
	})
}
