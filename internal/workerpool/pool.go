// Package workerpool runs submitted tasks on a fixed number of goroutines and
// lets the submitter wait for everything outstanding to finish.
//
// A Pool is meant to be created once and reused across many submit/join
// cycles. Finished tasks are kept until Completed drains them.
package workerpool

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"go.uber.org/atomic"
)

// DefaultQueueDepth bounds how many tasks may wait for a worker before
// Submit blocks.
const DefaultQueueDepth = 4096

// Task is one unit of work. Run is called exactly once on a worker
// goroutine; results are read back from the task after Completed returns it.
type Task interface {
	Run(ctx context.Context)
}

// Pool is a bounded worker pool.
type Pool struct {
	ctx         context.Context
	cancel      context.CancelFunc
	work        chan Task
	completed   []Task
	pending     sync.WaitGroup // submitted but not finished
	workers     sync.WaitGroup
	outstanding atomic.Int64
	finished    atomic.Int64
	mu          sync.Mutex // protects completed
	stopOnce    sync.Once
	numWorkers  int
}

// New starts a pool with numWorkers goroutines. Values below one are
// raised to one.
func New(numWorkers int) *Pool {
	return NewWithQueue(numWorkers, DefaultQueueDepth)
}

// NewWithQueue is New with an explicit queue depth.
func NewWithQueue(numWorkers, queueDepth int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:        ctx,
		cancel:     cancel,
		work:       make(chan Task, queueDepth),
		numWorkers: numWorkers,
	}
	p.workers.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker(i)
	}
	glog.V(2).Infof("worker pool started with %d workers", numWorkers)
	return p
}

func (p *Pool) worker(id int) {
	defer p.workers.Done()
	for t := range p.work {
		p.run(id, t)
	}
}

func (p *Pool) run(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("worker %d: task panicked: %v", id, r)
		}
		p.mu.Lock()
		p.completed = append(p.completed, t)
		p.mu.Unlock()
		p.outstanding.Dec()
		p.finished.Inc()
		p.pending.Done()
	}()
	t.Run(p.ctx)
}

// NumWorkers reports the configured concurrency.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Submit queues t. It blocks only when the queue is full. Submitting after
// Stop panics, as with a closed channel.
func (p *Pool) Submit(t Task) {
	p.pending.Add(1)
	p.outstanding.Inc()
	p.work <- t
}

// Join blocks until every submitted task has finished.
func (p *Pool) Join() {
	p.pending.Wait()
}

// Outstanding is the number of submitted tasks that have not finished.
func (p *Pool) Outstanding() int {
	return int(p.outstanding.Load())
}

// Finished is the number of tasks finished over the pool's lifetime.
func (p *Pool) Finished() int {
	return int(p.finished.Load())
}

// Completed returns finished tasks in completion order and clears the list.
func (p *Pool) Completed() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	done := p.completed
	p.completed = nil
	return done
}

// Stop cancels the context passed to running tasks, lets queued tasks drain
// and waits for the workers to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.work)
		p.workers.Wait()
		glog.V(2).Infof("worker pool stopped")
	})
}
