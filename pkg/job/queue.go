package job

import (
	"sync"
)

// Queue holds the jobs waiting for a worker, oldest first. Enqueuing
// never waits for a worker; workers take jobs by receiving from
// Ready(). All changes to the queue are made by its loop, so a job
// can be taken out (e.g., because it was cancelled) without racing a
// worker for it.
type Queue struct {
	ready    chan *Job
	incoming chan *Job
	removals chan removal
	sync     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	waiting []*Job
}

type removal struct {
	id      ID
	removed chan bool
}

// NewQueue starts a queue, which runs until stop is closed.
func NewQueue(stop <-chan struct{}, wg *sync.WaitGroup) *Queue {
	q := &Queue{
		ready:    make(chan *Job),
		incoming: make(chan *Job),
		removals: make(chan removal),
		sync:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	wg.Add(1)
	go q.loop(stop, wg)
	return q
}

// Len is the number of jobs waiting. It can lag behind an Enqueue or
// a receive from Ready() for a moment; Sync first if that matters.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Enqueue adds a job to the back of the queue. Once the queue has
// stopped, jobs are dropped.
func (q *Queue) Enqueue(j *Job) {
	select {
	case q.incoming <- j:
	case <-q.done:
	}
}

// Ready gives the job at the front of the queue to whoever receives
// from it.
func (q *Queue) Ready() <-chan *Job {
	return q.ready
}

// Remove takes a job out of the queue, and says whether it was there
// to take out; if not, it's already been given to a worker (or was
// never enqueued).
func (q *Queue) Remove(id ID) bool {
	r := removal{id: id, removed: make(chan bool, 1)}
	select {
	case q.removals <- r:
		return <-r.removed
	case <-q.done:
		return false
	}
}

// Position is where the job is in the queue, counting from 1 for
// the next job to run; 0 means it isn't waiting.
func (q *Queue) Position(id ID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.waiting {
		if j.ID == id {
			return i + 1
		}
	}
	return 0
}

// ForEach calls fn with each waiting job, in order, until fn returns
// false.
func (q *Queue) ForEach(fn func(int, *Job) bool) {
	q.mu.Lock()
	jobs := append([]*Job(nil), q.waiting...)
	q.mu.Unlock()
	for i, j := range jobs {
		if !fn(i, j) {
			return
		}
	}
}

// Sync waits until the loop has dealt with everything sent to it
// before. It's only meaningful when a single goroutine is using the
// queue, so really it's for tests:
//
//	q.Enqueue(j)
//	q.Sync()
//	fmt.Printf("Queue length is %d\n", q.Len())
func (q *Queue) Sync() {
	select {
	case q.sync <- struct{}{}:
	case <-q.done:
	}
}

func (q *Queue) loop(stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(q.done)
	for {
		// A nil channel is never ready, so with nothing waiting,
		// nothing is offered to workers.
		var out chan *Job
		next := q.head()
		if next != nil {
			out = q.ready
		}

		select {
		case <-stop:
			return
		case <-q.sync:
		case in := <-q.incoming:
			q.mu.Lock()
			q.waiting = append(q.waiting, in)
			q.mu.Unlock()
		case r := <-q.removals:
			r.removed <- q.remove(r.id)
		case out <- next:
			q.remove(next.ID)
		}
	}
}

func (q *Queue) head() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) > 0 {
		return q.waiting[0]
	}
	return nil
}

func (q *Queue) remove(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.waiting {
		if j.ID == id {
			q.waiting = append(q.waiting[:i:i], q.waiting[i+1:]...)
			return true
		}
	}
	return false
}
