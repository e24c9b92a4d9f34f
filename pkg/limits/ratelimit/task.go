package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskFunc is the work resumed when a deferred request is drained.
type TaskFunc func(ctx context.Context) error

// TaskStatus is the lifecycle state of a Task.
type TaskStatus int32

const (
	// TaskPending means the task is queued and waiting for the scheduler.
	TaskPending TaskStatus = iota

	// TaskRunning means the scheduler is executing the task.
	TaskRunning

	// TaskDone means the task ran and returned nil.
	TaskDone

	// TaskFailed means the task returned an error or panicked.
	TaskFailed

	// TaskTimedOut means the task aged out in the queue.
	TaskTimedOut

	// TaskCancelled means the caller gave up before the task was drained.
	TaskCancelled

	// TaskAbandoned means the scheduler stopped before draining the task.
	TaskAbandoned
)

// String returns the lowercase status name.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	case TaskTimedOut:
		return "timed_out"
	case TaskCancelled:
		return "cancelled"
	case TaskAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Task is a suspended request waiting in a leaky bucket queue.
//
// It captures what to run on resume and is resolved exactly once: either it
// runs (TaskDone or TaskFailed) or it is dropped from the queue with a
// reason (TaskTimedOut, TaskCancelled, TaskAbandoned). Done is closed on
// resolution, after which Err and Status are stable.
//
// # Thread Safety
//
// All transitions are compare-and-swap on the status, so the scheduler and
// the caller may race to resolve a task without coordination.
type Task struct {
	id       string
	run      TaskFunc
	timeout  time.Duration
	key      string
	queuedAt time.Time
	deadline time.Time

	status atomic.Int32
	done   chan struct{}
	err    error

	// detach removes the task from its queue. Set by the owning queue.
	detach func(*Task)
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithTaskTimeout overrides the queue's deferred timeout for this task.
func WithTaskTimeout(d time.Duration) TaskOption {
	return func(t *Task) {
		t.timeout = d
	}
}

// WithTaskID sets the task ID instead of generating one.
func WithTaskID(id string) TaskOption {
	return func(t *Task) {
		t.id = id
	}
}

// NewTask creates a pending task that calls run when drained. run may be
// nil, in which case draining simply resolves the task.
func NewTask(run TaskFunc, opts ...TaskOption) *Task {
	t := &Task{
		run:  run,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.id == "" {
		t.id = uuid.New().String()
	}
	return t
}

// ID returns the task's unique identifier.
func (t *Task) ID() string { return t.id }

// Key returns the client key the task was queued under.
func (t *Task) Key() string { return t.key }

// QueuedAt returns when the task entered its queue.
func (t *Task) QueuedAt() time.Time { return t.queuedAt }

// Deadline returns the queue deadline, or the zero time if none.
func (t *Task) Deadline() time.Time { return t.deadline }

// Done is closed once the task is resolved.
func (t *Task) Done() <-chan struct{} { return t.done }

// Status returns the current lifecycle state.
func (t *Task) Status() TaskStatus { return TaskStatus(t.status.Load()) }

// Err returns nil if the task ran successfully, otherwise the resolution
// reason (wrapping one of ErrDispatchFailure, ErrDeferredTimeout,
// ErrTaskCancelled or ErrSchedulerStopped). It returns nil before Done is
// closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task is resolved or ctx is done. If ctx ends first
// the task is cancelled; the returned error is then the task's own
// resolution if it won the race, or ErrTaskCancelled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		t.Cancel()
		<-t.done
		return t.err
	}
}

// Cancel resolves a pending task with ErrTaskCancelled and removes it from
// its queue. It returns false if the task was already running or resolved.
func (t *Task) Cancel() bool {
	if !t.transition(TaskPending, TaskCancelled, ErrTaskCancelled) {
		return false
	}
	if t.detach != nil {
		t.detach(t)
	}
	return true
}

// enqueued records queue placement. Called by the owning queue under its lock.
func (t *Task) enqueued(key string, now time.Time, defaultTimeout time.Duration, detach func(*Task)) {
	t.key = key
	t.queuedAt = now
	t.detach = detach

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if timeout > 0 {
		t.deadline = now.Add(timeout)
	}
}

// pending reports whether the task is still waiting in a queue.
func (t *Task) pending() bool {
	return t.Status() == TaskPending
}

// expire resolves the task as timed out if its deadline has passed at now.
func (t *Task) expire(now time.Time) bool {
	if t.deadline.IsZero() || now.Before(t.deadline) {
		return false
	}
	return t.transition(TaskPending, TaskTimedOut, ErrDeferredTimeout)
}

// abandon resolves a pending task with reason.
func (t *Task) abandon(reason error) bool {
	return t.transition(TaskPending, TaskAbandoned, reason)
}

// execute runs the task on the calling goroutine. A returned error or a
// panic resolves the task as TaskFailed; execute itself never panics.
func (t *Task) execute(ctx context.Context) (ran bool) {
	if !t.status.CompareAndSwap(int32(TaskPending), int32(TaskRunning)) {
		return false
	}

	err := t.safeRun(ctx)
	if err != nil {
		t.resolve(TaskFailed, fmt.Errorf("%w: %w", ErrDispatchFailure, err))
	} else {
		t.resolve(TaskDone, nil)
	}
	return true
}

func (t *Task) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if t.run == nil {
		return nil
	}
	return t.run(ctx)
}

func (t *Task) transition(from, to TaskStatus, err error) bool {
	if !t.status.CompareAndSwap(int32(from), int32(TaskRunning)) {
		return false
	}
	t.resolve(to, err)
	return true
}

// resolve publishes the final status. Only the goroutine that moved the
// task out of TaskPending calls it, so it runs once.
func (t *Task) resolve(status TaskStatus, err error) {
	t.err = err
	t.status.Store(int32(status))
	close(t.done)
}
