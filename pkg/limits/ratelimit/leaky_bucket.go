package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// LeakyBucket implements the leaky bucket as a queue.
//
// Instead of rejecting excess load outright, each key gets a bounded FIFO of
// suspended requests that a Scheduler drains at a steady rate. Enqueueing
// never blocks: a full queue rejects immediately with a retry hint, and an
// accepted request returns Deferred so the caller's goroutine is free.
//
// # Drain Rate
//
// Every tick the scheduler releases up to TokensPerTick entries from every
// non-empty queue:
//
//	tokensPerTick = max(1, round(leakRate / (1000 / tickMillis)))
//
// The quota applies to each key independently, so the aggregate release rate
// grows with the number of backlogged keys while each key drains at roughly
// leakRate. When leakRate*tick is below one request, a key releases one
// entry every 1/(leakRate*tick) ticks instead of one per tick, which keeps
// the per-key rate at leakRate.
//
// # Ordering
//
// Within a key entries are drained strictly in enqueue order. Across keys
// the order within a tick is unspecified.
//
// # Thread Safety
//
// Queue push, pop and removal run under a per-key mutex. Tasks run outside
// any lock on the scheduler goroutine.
type LeakyBucket struct {
	capacity     int
	leakRate     float64
	tickInterval time.Duration
	timeout      time.Duration
	idleAfter    time.Duration
	queues       *KeyedStore[*taskQueue]
	scheduler    *Scheduler
	observer     func(*Task)
	logger       *slog.Logger

	closed  atomic.Bool
	pending atomic.Int64
}

type taskQueue struct {
	stateBase
	ring   taskRing
	credit float64
}

// LeakyBucketConfig configures a LeakyBucket.
type LeakyBucketConfig struct {
	// Capacity is the maximum number of queued requests per key.
	Capacity int

	// LeakRate is the number of requests released per second per key.
	LeakRate float64

	// TickInterval is the scheduler period.
	TickInterval time.Duration

	// DeferredTimeout bounds how long a request may wait. Zero waits forever.
	DeferredTimeout time.Duration

	// IdleAfter lets Evict drop empty queues not used for this long.
	IdleAfter time.Duration

	// Observer is called after the scheduler resolves a task (drained,
	// failed, timed out or abandoned). It must not block.
	Observer func(*Task)
}

// NewLeakyBucket creates a leaky bucket and its drain scheduler. The
// scheduler is not started; call Start, or drive it with Scheduler().Tick.
func NewLeakyBucket(cfg LeakyBucketConfig, opts ...SchedulerOption) *LeakyBucket {
	lb := &LeakyBucket{
		capacity:     cfg.Capacity,
		leakRate:     cfg.LeakRate,
		tickInterval: cfg.TickInterval,
		timeout:      cfg.DeferredTimeout,
		idleAfter:    cfg.IdleAfter,
		queues:       NewKeyedStore[*taskQueue](0),
		observer:     cfg.Observer,
	}
	lb.scheduler = NewScheduler(lb, cfg.TickInterval, opts...)
	lb.logger = lb.scheduler.logger
	return lb
}

// Name returns "leaky_bucket".
func (lb *LeakyBucket) Name() string { return StrategyLeakyBucket }

// Decide queues task for key. It returns Deferred on success and Reject with
// ErrQueueFull when the key's queue is at capacity. now marks the key as
// used; the task's queue time and deadline come from the scheduler clock.
func (lb *LeakyBucket) Decide(key string, now time.Time, task *Task) Decision {
	limit := int64(lb.capacity)

	if task == nil {
		task = NewTask(nil)
	}
	if !task.pending() || !task.queuedAt.IsZero() {
		// A task can sit in exactly one queue once.
		return rejectDecision(ErrTaskQueued, 0, limit)
	}

	q := lockKey(lb.queues, key, func() *taskQueue {
		return &taskQueue{ring: newTaskRing(lb.capacity)}
	})
	defer q.mu.Unlock()

	if lb.closed.Load() {
		return rejectDecision(ErrSchedulerStopped, lb.retryHint(), limit)
	}

	q.lastSeen = now
	if q.ring.len() >= lb.capacity {
		return rejectDecision(ErrQueueFull, lb.retryHint(), limit)
	}

	// Wait deadlines use the scheduler clock, not the decision time, which
	// may be truncated to whole seconds.
	task.enqueued(key, lb.scheduler.clock.Now(), lb.timeout, func(t *Task) { lb.remove(q, t) })
	q.ring.push(task)
	lb.pending.Add(1)

	return deferDecision(task, limit, limit-int64(q.ring.len()))
}

// TokensPerTick returns the nominal per-tick release quota:
// max(1, round(leakRate / (1000 / tickMillis))).
//
// When leakRate*tick is below one request the reported value is 1, but the
// actual quota is fractional: a key releases one entry every
// 1/(leakRate*tick) ticks, so the per-key rate stays at leakRate.
func (lb *LeakyBucket) TokensPerTick() int {
	n := int(math.Round(lb.perTick()))
	if n < 1 {
		return 1
	}
	return n
}

// perTick is leakRate scaled to one tick.
func (lb *LeakyBucket) perTick() float64 {
	tickMillis := float64(lb.tickInterval) / float64(time.Millisecond)
	if tickMillis <= 0 {
		return 0
	}
	return lb.leakRate / (1000 / tickMillis)
}

// Scheduler returns the bucket's drain scheduler.
func (lb *LeakyBucket) Scheduler() *Scheduler { return lb.scheduler }

// Start starts the drain scheduler.
func (lb *LeakyBucket) Start(ctx context.Context) error {
	return lb.scheduler.Start(ctx)
}

// Stop stops the drain scheduler and resolves every still queued task with
// ErrSchedulerStopped. Further Decide calls reject.
func (lb *LeakyBucket) Stop(ctx context.Context) error {
	return lb.scheduler.Stop(ctx)
}

// Pending returns the total number of queued tasks across keys.
func (lb *LeakyBucket) Pending() int64 {
	return lb.pending.Load()
}

// QueueLen returns the number of queued tasks for key.
func (lb *LeakyBucket) QueueLen(key string) int {
	q, ok := lb.queues.Get(key)
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.len()
}

// Capacity returns the per-key queue capacity.
func (lb *LeakyBucket) Capacity() int { return lb.capacity }

// Evict drops empty queues unused for longer than IdleAfter.
func (lb *LeakyBucket) Evict(now time.Time) int {
	if lb.idleAfter <= 0 {
		return 0
	}
	return evictIdle(lb.queues, now.Add(-lb.idleAfter), func(q *taskQueue) bool {
		return q.ring.len() > 0
	})
}

// Keys returns the number of tracked queues.
func (lb *LeakyBucket) Keys() int {
	return lb.queues.Len()
}

// DrainTick releases due entries from every non-empty queue. It implements
// Drainer and is called by the Scheduler once per tick.
func (lb *LeakyBucket) DrainTick(ctx context.Context, now time.Time) TickStats {
	var stats TickStats
	lb.queues.Range(func(key string, q *taskQueue) bool {
		lb.drainKey(ctx, key, q, now, &stats)
		return true
	})
	return stats
}

// drainKey expires and drains one key. A fault here is contained to the key:
// tasks already popped but not yet run are resolved with ErrTickFailure.
func (lb *LeakyBucket) drainKey(ctx context.Context, key string, q *taskQueue, now time.Time, stats *TickStats) {
	var batch []*Task
	defer func() {
		if r := recover(); r != nil {
			stats.Faults++
			err := fmt.Errorf("%w: %v", ErrTickFailure, r)
			lb.logger.Error("Drain failed for key", "key", key, "error", err)
			for _, t := range batch {
				if t.abandon(err) {
					lb.notify(t)
				}
			}
		}
	}()

	expired, due := lb.takeDue(q, now)
	if len(expired) == 0 && len(due) == 0 {
		return
	}
	stats.Keys++
	batch = due

	for _, t := range expired {
		stats.TimedOut++
		lb.notify(t)
	}

	for len(batch) > 0 {
		t := batch[0]
		batch = batch[1:]

		if !t.execute(ctx) {
			// Cancelled between pop and run; already resolved.
			continue
		}
		if t.Status() == TaskFailed {
			stats.Failed++
			lb.logger.Warn("Deferred request failed",
				"key", key,
				"task_id", t.ID(),
				"error", t.Err(),
			)
		} else {
			stats.Drained++
		}
		lb.notify(t)
	}
}

// takeDue removes timed out and no longer pending tasks from q, then pops
// this tick's quota of pending tasks in FIFO order.
func (lb *LeakyBucket) takeDue(q *taskQueue, now time.Time) (expired, batch []*Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ring.len() == 0 {
		q.credit = 0
		return nil, nil
	}

	removed := q.ring.removeFunc(func(t *Task) bool {
		if t.expire(now) {
			expired = append(expired, t)
			return true
		}
		return !t.pending()
	})
	lb.pending.Add(-int64(removed))

	quota := lb.quotaLocked(q)
	for quota > 0 && q.ring.len() > 0 {
		t := q.ring.pop()
		lb.pending.Add(-1)
		batch = append(batch, t)
		quota--
	}
	if q.ring.len() == 0 {
		q.credit = 0
	}
	return expired, batch
}

// quotaLocked returns how many entries q may release this tick.
// Caller must hold q.mu.
func (lb *LeakyBucket) quotaLocked(q *taskQueue) int {
	per := lb.perTick()
	if per >= 1 || per <= 0 {
		return lb.TokensPerTick()
	}

	q.credit += per
	n := int(q.credit + 1e-9)
	q.credit -= float64(n)
	if q.credit < 0 {
		q.credit = 0
	}
	return n
}

// Abandon resolves every queued task with reason and refuses new ones.
// It implements Drainer and is called when the scheduler stops.
func (lb *LeakyBucket) Abandon(reason error) int {
	lb.closed.Store(true)

	var abandoned []*Task
	lb.queues.Range(func(_ string, q *taskQueue) bool {
		q.mu.Lock()
		for q.ring.len() > 0 {
			t := q.ring.pop()
			lb.pending.Add(-1)
			if t.abandon(reason) {
				abandoned = append(abandoned, t)
			}
		}
		q.credit = 0
		q.mu.Unlock()
		return true
	})

	for _, t := range abandoned {
		lb.notify(t)
	}
	return len(abandoned)
}

// remove drops t from q. Used when a caller cancels a queued task.
func (lb *LeakyBucket) remove(q *taskQueue, t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := q.ring.removeFunc(func(x *Task) bool { return x == t })
	lb.pending.Add(-int64(removed))
}

func (lb *LeakyBucket) notify(t *Task) {
	if lb.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			lb.logger.Error("Task observer panicked", "task_id", t.ID(), "error", errors.New(fmt.Sprint(r)))
		}
	}()
	lb.observer(t)
}

func (lb *LeakyBucket) retryHint() time.Duration {
	if lb.tickInterval > time.Second {
		return lb.tickInterval
	}
	return time.Second
}

// taskRing is a fixed capacity FIFO of tasks.
type taskRing struct {
	buf  []*Task
	head int
	size int
}

func newTaskRing(capacity int) taskRing {
	if capacity < 1 {
		capacity = 1
	}
	return taskRing{buf: make([]*Task, capacity)}
}

func (r *taskRing) len() int { return r.size }

func (r *taskRing) push(t *Task) {
	r.buf[(r.head+r.size)%len(r.buf)] = t
	r.size++
}

func (r *taskRing) pop() *Task {
	t := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return t
}

// removeFunc deletes every task for which fn returns true, keeping the
// order of the rest, and returns the number removed.
func (r *taskRing) removeFunc(fn func(*Task) bool) int {
	kept := 0
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % len(r.buf)
		t := r.buf[idx]
		r.buf[idx] = nil
		if fn(t) {
			continue
		}
		r.buf[(r.head+kept)%len(r.buf)] = t
		kept++
	}
	removed := r.size - kept
	r.size = kept
	return removed
}
