package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Veraticus/mail-alfred/internal/metrics"
	"github.com/Veraticus/mail-alfred/internal/model"
)

// Task processes one message. It must call release as soon as it no longer
// needs its admission slot; the slot is also freed when the task returns.
type Task func(ctx context.Context, release func()) model.Outcome

// Future is the pending outcome of a submitted task.
type Future struct {
	done    chan struct{}
	outcome model.Outcome
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(o model.Outcome) {
	f.outcome = o
	close(f.done)
}

// Wait blocks until the task has an outcome and returns it.
func (f *Future) Wait() model.Outcome {
	<-f.done
	return f.outcome
}

type queuedTask struct {
	future *Future
	task   Task
	msg    model.Message
}

// Controller admits at most limit tasks at a time, first come first served.
// Submit never blocks: tasks wait in an unbounded queue drained by a single
// dispatcher that acquires a semaphore slot per task in submission order.
// Once ctx is canceled, queued tasks are not started and resolve as
// Skipped(canceled); admitted tasks run to completion.
type Controller struct {
	ctx     context.Context
	sem     *semaphore.Weighted
	notify  chan struct{}
	stopped chan struct{}
	queue   []queuedTask
	running sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewController starts a controller admitting up to limit concurrent tasks.
func NewController(ctx context.Context, limit int) *Controller {
	if limit < 1 {
		limit = 1
	}
	c := &Controller{
		ctx:     ctx,
		sem:     semaphore.NewWeighted(int64(limit)),
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Submit enqueues task for msg and returns its future.
func (c *Controller) Submit(msg model.Message, task Task) *Future {
	f := newFuture()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.finish(f, model.Skipped(msg, model.SkipCanceled))
		return f
	}
	c.queue = append(c.queue, queuedTask{future: f, task: task, msg: msg})
	c.mu.Unlock()

	c.wake()
	return f
}

// Close stops accepting tasks. Queued tasks are still dispatched.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wake()
}

// Wait closes the controller and blocks until every submitted task has an
// outcome.
func (c *Controller) Wait() {
	c.Close()
	<-c.stopped
	c.running.Wait()
}

func (c *Controller) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Controller) dispatch() {
	defer close(c.stopped)

	for {
		item, ok := c.next()
		if !ok {
			return
		}

		if c.ctx.Err() != nil {
			c.finish(item.future, model.Skipped(item.msg, model.SkipCanceled))
			continue
		}
		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			c.finish(item.future, model.Skipped(item.msg, model.SkipCanceled))
			continue
		}

		metrics.ClassifyInFlight.Inc()
		c.running.Add(1)
		go c.run(item)
	}
}

// next pops the oldest queued task, waiting for one unless the controller
// is closed and drained.
func (c *Controller) next() (queuedTask, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			item := c.queue[0]
			c.queue[0] = queuedTask{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return item, true
		}
		if c.closed {
			c.mu.Unlock()
			return queuedTask{}, false
		}
		c.mu.Unlock()
		<-c.notify
	}
}

func (c *Controller) run(item queuedTask) {
	defer c.running.Done()

	var once sync.Once
	release := func() {
		once.Do(func() {
			metrics.ClassifyInFlight.Dec()
			c.sem.Release(1)
		})
	}
	defer release()

	c.finish(item.future, item.task(c.ctx, release))
}

func (c *Controller) finish(f *Future, o model.Outcome) {
	f.resolve(o)
}
