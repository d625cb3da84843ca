package pipeline

import (
	"sync"
	"sync/atomic"
)

// QueueStats is a snapshot of queue counters
type QueueStats struct {
	TotalJobs     int64
	CompletedJobs int64
	PendingJobs   int
	ActiveWorkers int32
}

// Queue runs submitted jobs one at a time in submission order
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool

	wg   sync.WaitGroup
	once sync.Once
	done chan struct{}

	totalJobs     int64
	completedJobs int64
	activeWorkers int32
}

// NewQueue creates a stopped queue; call Start before Submit.
func NewQueue() *Queue {
	q := &Queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the single worker. Calling it again has no effect.
func (q *Queue) Start() {
	q.once.Do(func() {
		go q.worker()
	})
}

func (q *Queue) worker() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.runJob(job)
	}
}

func (q *Queue) runJob(job func()) {
	atomic.AddInt32(&q.activeWorkers, 1)
	defer func() {
		atomic.AddInt32(&q.activeWorkers, -1)
		atomic.AddInt64(&q.completedJobs, 1)
		q.wg.Done()
	}()
	job()
}

// Submit appends a job without blocking. It returns false once the queue is closed.
func (q *Queue) Submit(job func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.wg.Add(1)
	atomic.AddInt64(&q.totalJobs, 1)
	q.pending = append(q.pending, job)
	q.cond.Signal()
	return true
}

// Wait blocks until every submitted job has finished or been dropped
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close stops accepting jobs, drops the ones not yet started and waits for
// the running job to return.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	for i := 0; i < dropped; i++ {
		q.wg.Done()
	}

	// A queue that never started has no worker to close done.
	q.once.Do(func() {
		close(q.done)
	})
	<-q.done
}

// GetStats returns queue statistics
func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	pending := len(q.pending)
	q.mu.Unlock()
	return QueueStats{
		TotalJobs:     atomic.LoadInt64(&q.totalJobs),
		CompletedJobs: atomic.LoadInt64(&q.completedJobs),
		PendingJobs:   pending,
		ActiveWorkers: atomic.LoadInt32(&q.activeWorkers),
	}
}
