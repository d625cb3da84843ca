package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_RunsInSubmissionOrder(t *testing.T) {
	q := NewQueue()
	q.Start()
	defer q.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		value := i
		if !q.Submit(func() {
			mu.Lock()
			order = append(order, value)
			mu.Unlock()
		}) {
			t.Fatal("Submit refused on open queue")
		}
	}
	q.Wait()

	if len(order) != 20 {
		t.Fatalf("Expected 20 jobs, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("Expected FIFO order, got %v", order)
		}
	}
}

func TestQueue_NeverRunsConcurrently(t *testing.T) {
	q := NewQueue()
	q.Start()
	defer q.Close()

	var active, peak int32
	for i := 0; i < 10; i++ {
		q.Submit(func() {
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&peak) {
				atomic.StoreInt32(&peak, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		})
	}
	q.Wait()

	if peak != 1 {
		t.Errorf("Expected at most one active job, saw %d", peak)
	}
}

func TestQueue_StartOnce(t *testing.T) {
	q := NewQueue()
	q.Start()
	q.Start()
	defer q.Close()

	var executed bool
	q.Submit(func() { executed = true })
	q.Wait()

	if !executed {
		t.Error("Expected job to be executed")
	}
}

func TestQueue_GetStats(t *testing.T) {
	q := NewQueue()
	q.Start()
	defer q.Close()

	release := make(chan struct{})
	running := make(chan struct{})
	q.Submit(func() {
		close(running)
		<-release
	})
	q.Submit(func() {})
	<-running

	stats := q.GetStats()
	if stats.TotalJobs != 2 || stats.ActiveWorkers != 1 || stats.PendingJobs != 1 {
		t.Errorf("unexpected stats while running: %+v", stats)
	}

	close(release)
	q.Wait()
	stats = q.GetStats()
	if stats.CompletedJobs != 2 || stats.ActiveWorkers != 0 || stats.PendingJobs != 0 {
		t.Errorf("unexpected stats after drain: %+v", stats)
	}
}

func TestQueue_CloseDropsPendingAndRefusesSubmit(t *testing.T) {
	q := NewQueue()
	q.Start()

	release := make(chan struct{})
	running := make(chan struct{})
	var ran int32
	q.Submit(func() {
		close(running)
		<-release
	})
	for i := 0; i < 3; i++ {
		q.Submit(func() { atomic.AddInt32(&ran, 1) })
	}
	<-running

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	q.Close()
	q.Wait()

	if atomic.LoadInt32(&ran) != 0 {
		t.Errorf("dropped jobs must not run, %d ran", ran)
	}
	if q.Submit(func() {}) {
		t.Error("Submit must fail after Close")
	}
	q.Close()
}

func TestQueue_CloseWithoutStart(t *testing.T) {
	q := NewQueue()
	q.Submit(func() {})

	done := make(chan struct{})
	go func() {
		q.Close()
		q.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a queue that never started")
	}
}
