package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newTestBucket builds a leaky bucket driven by a ManualClock.
func newTestBucket(t *testing.T, cfg LeakyBucketConfig) (*LeakyBucket, *ManualClock) {
	t.Helper()
	clock := NewManualClock(windowStart)
	lb := NewLeakyBucket(cfg, WithClock(clock))
	t.Cleanup(func() {
		_ = lb.Stop(context.Background())
	})
	return lb, clock
}

// step advances the clock by one tick and runs it.
func step(lb *LeakyBucket, clock *ManualClock) TickStats {
	clock.Advance(lb.tickInterval)
	return lb.Scheduler().Tick(context.Background())
}

// ============================================================================
// Leaky Bucket Enqueue Tests
// ============================================================================

func TestLeakyBucket_CapacityRejects(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{Capacity: 3, LeakRate: 1, TickInterval: 200 * time.Millisecond})

	for i := 0; i < 3; i++ {
		d := lb.Decide("client", clock.Now(), NewTask(nil))
		if d.Outcome != Deferred {
			t.Fatalf("Request %d: expected deferred, got %v", i+1, d.Outcome)
		}
		if d.Task == nil {
			t.Fatalf("Request %d: expected task on deferred decision", i+1)
		}
		if d.Remaining != int64(2-i) {
			t.Errorf("Request %d: expected remaining %d, got %d", i+1, 2-i, d.Remaining)
		}
	}

	d := lb.Decide("client", clock.Now(), NewTask(nil))
	if d.Outcome != Reject {
		t.Fatalf("Expected 4th request to be rejected, got %v", d.Outcome)
	}
	if !errors.Is(d.Reason, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", d.Reason)
	}
	if d.RetryAfter < time.Second {
		t.Errorf("Expected retry hint of at least 1s, got %v", d.RetryAfter)
	}

	if lb.QueueLen("client") != 3 {
		t.Errorf("Expected queue length 3, got %d", lb.QueueLen("client"))
	}
	if lb.Pending() != 3 {
		t.Errorf("Expected 3 pending, got %d", lb.Pending())
	}

	// Other keys have their own queue.
	if d := lb.Decide("other", clock.Now(), nil); d.Outcome != Deferred {
		t.Errorf("Expected independent key to defer, got %v", d.Outcome)
	}
}

func TestLeakyBucket_TaskQueuedOnce(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{Capacity: 3, LeakRate: 1, TickInterval: 200 * time.Millisecond})

	task := NewTask(nil)
	lb.Decide("client", clock.Now(), task)

	d := lb.Decide("client", clock.Now(), task)
	if d.Outcome != Reject || !errors.Is(d.Reason, ErrTaskQueued) {
		t.Errorf("Expected reuse of a queued task to reject with ErrTaskQueued, got %v %v", d.Outcome, d.Reason)
	}
	if lb.QueueLen("client") != 1 {
		t.Errorf("Expected the task queued once, got %d", lb.QueueLen("client"))
	}
}

// ============================================================================
// Drain Tests
// ============================================================================

func TestLeakyBucket_TokensPerTick(t *testing.T) {
	tests := []struct {
		name     string
		leakRate float64
		tick     time.Duration
		want     int
	}{
		{"fractional rate reports one", 1, 200 * time.Millisecond, 1},
		{"ten per second at 100ms", 10, 100 * time.Millisecond, 1},
		{"fifty per second at 100ms", 50, 100 * time.Millisecond, 5},
		{"rounds half up", 25, 100 * time.Millisecond, 3},
		{"one second tick", 7, time.Second, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := NewLeakyBucket(LeakyBucketConfig{Capacity: 1, LeakRate: tt.leakRate, TickInterval: tt.tick})
			if got := lb.TokensPerTick(); got != tt.want {
				t.Errorf("Expected %d tokens per tick, got %d", tt.want, got)
			}
		})
	}
}

func TestLeakyBucket_FIFODrainAtLeakRate(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{Capacity: 3, LeakRate: 1, TickInterval: 200 * time.Millisecond})

	var mu sync.Mutex
	var order []string
	record := func(name string) TaskFunc {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	tasks := []*Task{NewTask(record("a")), NewTask(record("b")), NewTask(record("c"))}
	for _, task := range tasks {
		lb.Decide("client", clock.Now(), task)
	}

	// 1 request/s at 5 ticks per second: one release every 5 ticks.
	for second := 1; second <= 3; second++ {
		for i := 0; i < 5; i++ {
			step(lb, clock)
		}
		mu.Lock()
		got := len(order)
		mu.Unlock()
		if got != second {
			t.Fatalf("After %ds: expected %d drained, got %d", second, second, got)
		}
	}

	want := []string{"a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Expected FIFO order %v, got %v", want, order)
			break
		}
	}
	for _, task := range tasks {
		if task.Status() != TaskDone || task.Err() != nil {
			t.Errorf("Expected task done without error, got %v %v", task.Status(), task.Err())
		}
	}
	if lb.Pending() != 0 {
		t.Errorf("Expected nothing pending, got %d", lb.Pending())
	}
}

func TestLeakyBucket_PerKeyQuota(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{Capacity: 10, LeakRate: 20, TickInterval: 100 * time.Millisecond})

	for _, key := range []string{"a", "b"} {
		for i := 0; i < 5; i++ {
			lb.Decide(key, clock.Now(), nil)
		}
	}

	stats := step(lb, clock)
	if stats.Keys != 2 || stats.Drained != 4 {
		t.Errorf("Expected 2 keys and 4 drained, got %+v", stats)
	}
	if lb.QueueLen("a") != 3 || lb.QueueLen("b") != 3 {
		t.Errorf("Expected 3 left per key, got a=%d b=%d", lb.QueueLen("a"), lb.QueueLen("b"))
	}
}

func TestLeakyBucket_DeferredTimeout(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{
		Capacity:        3,
		LeakRate:        1,
		TickInterval:    200 * time.Millisecond,
		DeferredTimeout: time.Second,
	})

	var ran atomic.Int64
	run := func(context.Context) error {
		ran.Add(1)
		return nil
	}

	first := NewTask(run)
	second := NewTask(run)
	lb.Decide("client", clock.Now(), first)
	lb.Decide("client", clock.Now(), second)

	if want := windowStart.Add(time.Second); !first.Deadline().Equal(want) {
		t.Errorf("Expected deadline %v, got %v", want, first.Deadline())
	}

	var timedOut int
	for i := 0; i < 5; i++ {
		timedOut += step(lb, clock).TimedOut
	}

	if timedOut != 2 {
		t.Errorf("Expected 2 timed out, got %d", timedOut)
	}
	if ran.Load() != 0 {
		t.Errorf("Expected timed out tasks not to run, got %d runs", ran.Load())
	}
	for _, task := range []*Task{first, second} {
		if task.Status() != TaskTimedOut {
			t.Errorf("Expected timed_out, got %v", task.Status())
		}
		if !errors.Is(task.Wait(context.Background()), ErrDeferredTimeout) {
			t.Errorf("Expected ErrDeferredTimeout, got %v", task.Err())
		}
	}
	if lb.QueueLen("client") != 0 {
		t.Errorf("Expected timed out tasks removed, got %d queued", lb.QueueLen("client"))
	}
}

func TestLeakyBucket_PerTaskTimeout(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{Capacity: 3, LeakRate: 1, TickInterval: 200 * time.Millisecond})

	task := NewTask(nil, WithTaskTimeout(200*time.Millisecond))
	lb.Decide("client", clock.Now(), task)

	if stats := step(lb, clock); stats.TimedOut != 1 {
		t.Errorf("Expected the task to time out on the first tick, got %+v", stats)
	}
}

func TestLeakyBucket_FailureIsolation(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{Capacity: 5, LeakRate: 30, TickInterval: 100 * time.Millisecond})

	boom := errors.New("upstream unavailable")
	failing := NewTask(func(context.Context) error { return boom })
	panicking := NewTask(func(context.Context) error { panic("handler bug") })
	ok := NewTask(nil)
	other := NewTask(nil)

	lb.Decide("client", clock.Now(), failing)
	lb.Decide("client", clock.Now(), panicking)
	lb.Decide("client", clock.Now(), ok)
	lb.Decide("other", clock.Now(), other)

	stats := step(lb, clock)
	if stats.Drained != 2 || stats.Failed != 2 || stats.Faults != 0 {
		t.Errorf("Expected 2 drained and 2 failed, got %+v", stats)
	}

	if !errors.Is(failing.Err(), ErrDispatchFailure) || !errors.Is(failing.Err(), boom) {
		t.Errorf("Expected failure wrapping the task error, got %v", failing.Err())
	}
	if !errors.Is(panicking.Err(), ErrDispatchFailure) {
		t.Errorf("Expected panic resolved as dispatch failure, got %v", panicking.Err())
	}
	if ok.Status() != TaskDone || other.Status() != TaskDone {
		t.Errorf("Expected healthy tasks to complete, got %v and %v", ok.Status(), other.Status())
	}

	// The scheduler keeps serving after a failing continuation.
	next := NewTask(nil)
	lb.Decide("client", clock.Now(), next)
	step(lb, clock)
	if next.Status() != TaskDone {
		t.Errorf("Expected later task to drain, got %v", next.Status())
	}
}

func TestLeakyBucket_Cancel(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{Capacity: 3, LeakRate: 1, TickInterval: 200 * time.Millisecond})

	var ran atomic.Bool
	task := NewTask(func(context.Context) error {
		ran.Store(true)
		return nil
	})
	lb.Decide("client", clock.Now(), task)

	if !task.Cancel() {
		t.Fatal("Expected pending task to cancel")
	}
	if task.Cancel() {
		t.Error("Expected second cancel to report false")
	}
	if lb.QueueLen("client") != 0 || lb.Pending() != 0 {
		t.Errorf("Expected cancelled task removed, got queue %d pending %d", lb.QueueLen("client"), lb.Pending())
	}
	if !errors.Is(task.Err(), ErrTaskCancelled) {
		t.Errorf("Expected ErrTaskCancelled, got %v", task.Err())
	}

	for i := 0; i < 10; i++ {
		step(lb, clock)
	}
	if ran.Load() {
		t.Error("Expected cancelled task never to run")
	}
}

func TestLeakyBucket_WaitCancelsOnContext(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{Capacity: 3, LeakRate: 1, TickInterval: 200 * time.Millisecond})

	task := NewTask(nil)
	lb.Decide("client", clock.Now(), task)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := task.Wait(ctx); !errors.Is(err, ErrTaskCancelled) {
		t.Errorf("Expected ErrTaskCancelled, got %v", err)
	}
	if task.Status() != TaskCancelled {
		t.Errorf("Expected cancelled status, got %v", task.Status())
	}
}

func TestLeakyBucket_Observer(t *testing.T) {
	var observed atomic.Int64
	clock := NewManualClock(windowStart)
	lb := NewLeakyBucket(LeakyBucketConfig{
		Capacity:     3,
		LeakRate:     10,
		TickInterval: 100 * time.Millisecond,
		Observer: func(*Task) {
			observed.Add(1)
			panic("observer bug")
		},
	}, WithClock(clock))

	lb.Decide("client", clock.Now(), nil)
	lb.Decide("client", clock.Now(), nil)

	step(lb, clock)
	_ = lb.Stop(context.Background())

	if observed.Load() != 2 {
		t.Errorf("Expected 2 observed tasks, got %d", observed.Load())
	}
}

func TestLeakyBucket_Evict(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{
		Capacity:     3,
		LeakRate:     10,
		TickInterval: 100 * time.Millisecond,
		IdleAfter:    time.Minute,
	})

	lb.Decide("drained", clock.Now(), nil)
	lb.Decide("backlog", clock.Now(), nil)
	lb.Decide("backlog", clock.Now(), nil)
	lb.Decide("backlog", clock.Now(), nil)

	// One tick releases one task per key.
	step(lb, clock)

	if removed := lb.Evict(clock.Now().Add(2 * time.Minute)); removed != 1 {
		t.Errorf("Expected only the empty queue evicted, got %d", removed)
	}
	if lb.QueueLen("backlog") != 2 {
		t.Errorf("Expected backlog queue kept, got len %d", lb.QueueLen("backlog"))
	}
}

// ============================================================================
// Shutdown Tests
// ============================================================================

func TestLeakyBucket_StopAbandonsQueued(t *testing.T) {
	clock := NewManualClock(windowStart)
	ticker := newFakeTicker()
	lb := NewLeakyBucket(LeakyBucketConfig{Capacity: 3, LeakRate: 1, TickInterval: time.Second},
		WithClock(clock),
		WithTicker(ticker.factory),
	)

	if err := lb.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := lb.Start(context.Background()); !errors.Is(err, ErrSchedulerRunning) {
		t.Errorf("Expected ErrSchedulerRunning, got %v", err)
	}

	a := NewTask(nil)
	b := NewTask(nil)
	lb.Decide("client", clock.Now(), a)
	lb.Decide("other", clock.Now(), b)

	if err := lb.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if lb.Scheduler().Running() {
		t.Error("Expected scheduler stopped")
	}

	for _, task := range []*Task{a, b} {
		select {
		case <-task.Done():
		default:
			t.Fatal("Expected abandoned task to be resolved")
		}
		if task.Status() != TaskAbandoned || !errors.Is(task.Err(), ErrSchedulerStopped) {
			t.Errorf("Expected abandoned with ErrSchedulerStopped, got %v %v", task.Status(), task.Err())
		}
	}

	d := lb.Decide("client", clock.Now(), nil)
	if d.Outcome != Reject || !errors.Is(d.Reason, ErrSchedulerStopped) {
		t.Errorf("Expected reject after stop, got %v %v", d.Outcome, d.Reason)
	}
}

func TestLeakyBucket_RunningLoopDrains(t *testing.T) {
	clock := NewManualClock(windowStart)
	ticker := newFakeTicker()
	lb := NewLeakyBucket(LeakyBucketConfig{Capacity: 3, LeakRate: 10, TickInterval: 100 * time.Millisecond},
		WithClock(clock),
		WithTicker(ticker.factory),
	)
	if err := lb.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer lb.Stop(context.Background())

	task := NewTask(nil)
	lb.Decide("client", clock.Now(), task)

	clock.Advance(100 * time.Millisecond)
	ticker.ch <- clock.Now()

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the running scheduler to drain the task")
	}
	if task.Status() != TaskDone {
		t.Errorf("Expected done, got %v", task.Status())
	}
}

// secondClock truncates another clock to whole seconds, like SystemClock.
type secondClock struct{ base Clock }

func (c secondClock) Now() time.Time { return c.base.Now().Truncate(time.Second) }

func TestLeakyBucket_SubSecondTimeoutWithSecondDecisions(t *testing.T) {
	queueClock := NewManualClock(time.Unix(1000, 950*int64(time.Millisecond)))
	decisions := secondClock{base: queueClock}
	lb := NewLeakyBucket(LeakyBucketConfig{
		Capacity:        3,
		LeakRate:        10,
		TickInterval:    100 * time.Millisecond,
		DeferredTimeout: 500 * time.Millisecond,
	}, WithClock(queueClock))
	defer lb.Stop(context.Background())

	task := NewTask(nil)
	if d := lb.Decide("client", decisions.Now(), task); d.Outcome != Deferred {
		t.Fatalf("Expected deferred, got %v", d.Outcome)
	}
	if want := queueClock.Now(); !task.QueuedAt().Equal(want) {
		t.Errorf("Expected queued at %v, got %v", want, task.QueuedAt())
	}
	if want := queueClock.Now().Add(500 * time.Millisecond); !task.Deadline().Equal(want) {
		t.Errorf("Expected deadline %v, got %v", want, task.Deadline())
	}

	// Crosses a whole second while the task has waited only 100ms.
	queueClock.Advance(100 * time.Millisecond)
	stats := lb.Scheduler().Tick(context.Background())

	if stats.TimedOut != 0 || stats.Drained != 1 {
		t.Errorf("Expected the task drained within its deadline, got %+v", stats)
	}
	if task.Status() != TaskDone {
		t.Errorf("Expected done, got %v (err %v)", task.Status(), task.Err())
	}
}

func TestLeakyBucket_SubSecondTimeoutStillExpires(t *testing.T) {
	queueClock := NewManualClock(time.Unix(1000, 950*int64(time.Millisecond)))
	decisions := secondClock{base: queueClock}
	lb := NewLeakyBucket(LeakyBucketConfig{
		Capacity:        3,
		LeakRate:        1,
		TickInterval:    100 * time.Millisecond,
		DeferredTimeout: 150 * time.Millisecond,
	}, WithClock(queueClock))
	defer lb.Stop(context.Background())

	// At 1/s with a 100ms tick no release is due before the 150ms deadline.
	first := NewTask(nil)
	second := NewTask(nil)
	lb.Decide("client", decisions.Now(), first)
	lb.Decide("client", decisions.Now(), second)

	var timedOut int
	for i := 0; i < 3; i++ {
		queueClock.Advance(100 * time.Millisecond)
		timedOut += lb.Scheduler().Tick(context.Background()).TimedOut
	}

	if timedOut != 2 {
		t.Errorf("Expected both tasks to time out, got %d", timedOut)
	}
	if !errors.Is(second.Err(), ErrDeferredTimeout) {
		t.Errorf("Expected ErrDeferredTimeout, got %v", second.Err())
	}
}

func TestLeakyBucket_ConcurrentEnqueue(t *testing.T) {
	lb, clock := newTestBucket(t, LeakyBucketConfig{Capacity: 10, LeakRate: 1, TickInterval: 200 * time.Millisecond})

	var deferred, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := lb.Decide("client", clock.Now(), NewTask(nil))
			switch d.Outcome {
			case Deferred:
				deferred.Add(1)
			case Reject:
				if !errors.Is(d.Reason, ErrQueueFull) {
					t.Errorf("Expected ErrQueueFull, got %v", d.Reason)
				}
				rejected.Add(1)
			}
			if d.Remaining < 0 {
				t.Errorf("Expected non-negative remaining, got %d", d.Remaining)
			}
		}()
	}
	wg.Wait()

	if got := deferred.Load(); got != 10 {
		t.Errorf("Expected exactly 10 deferred, got %d", got)
	}
	if got := rejected.Load(); got != 90 {
		t.Errorf("Expected 90 rejected, got %d", got)
	}
	if n := lb.QueueLen("client"); n != 10 {
		t.Errorf("Expected queue length 10, got %d", n)
	}
	if p := lb.Pending(); p != 10 {
		t.Errorf("Expected 10 pending, got %d", p)
	}
}
