// Package scheduler executes tasks one at a time in FIFO order.
package scheduler

import (
	"context"
	"sync"

	"github.com/thuasta/saiblo-worker/internal/task"
	"github.com/thuasta/saiblo-worker/pkg/logger"
)

// queue is an unbounded FIFO of tasks with blocking pop.
type queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	tasks []task.Task
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(t task.Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until a task is available or ctx is done.
func (q *queue) pop(ctx context.Context) (task.Task, error) {
	stop := context.AfterFunc(ctx, func() {
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.cond.Wait()
	}

	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, nil
}

func (q *queue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0
}

func (q *queue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
}

// Scheduler is a serial FIFO executor. Tasks run strictly one at a time and
// finished tasks surface on the done queue in execution order, whatever the
// execution outcome.
type Scheduler struct {
	pending *queue
	done    *queue
	log     *logger.Logger
}

// New creates a Scheduler.
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{
		pending: newQueue(),
		done:    newQueue(),
		log:     log,
	}
}

// Schedule enqueues a task. It never blocks; callers wanting backpressure
// gate on Idle instead.
func (s *Scheduler) Schedule(t task.Task) {
	s.pending.push(t)
}

// Idle reports whether the pending queue is empty at the instant of the call.
func (s *Scheduler) Idle() bool {
	return s.pending.empty()
}

// PopDoneTask blocks until the next finished task is available, in completion
// order.
func (s *Scheduler) PopDoneTask(ctx context.Context) (task.Task, error) {
	return s.done.pop(ctx)
}

// Clean drains both queues without executing anything.
func (s *Scheduler) Clean() {
	s.pending.drain()
	s.done.drain()
}

// Start runs the executor loop until ctx is done. Task failures are logged
// and never terminate the loop; the task is emitted on the done queue either
// way.
func (s *Scheduler) Start(ctx context.Context) error {
	for {
		t, err := s.pending.pop(ctx)
		if err != nil {
			return err
		}

		s.log.Debug("executing task", "task", t.String())

		if err := t.Execute(ctx); err != nil {
			s.log.Error("task failed", err, "task", t.String())
		} else {
			s.log.Info("task done", "task", t.String())
		}

		s.done.push(t)
	}
}
