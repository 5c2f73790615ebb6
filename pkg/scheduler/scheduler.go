package scheduler

import (
	"container/heap"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of deferred work.
type Task func()

// Handle identifies a posted task.
type Handle struct {
	s *Scheduler

	fn     Task
	fire   time.Time
	period time.Duration
	seq    uint64

	// index is the position in the queue, -1 while not queued.
	index     int
	cancelled bool
	done      bool
}

// Cancel cancels the task. See Scheduler.Cancel.
func (h *Handle) Cancel() {
	if h == nil || h.s == nil {
		return
	}
	h.s.Cancel(h)
}

// Pending reports whether the task may still run.
func (h *Handle) Pending() bool {
	if h == nil || h.s == nil {
		return false
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return !h.cancelled && !h.done
}

// FireTime returns the next time the task is due.
func (h *Handle) FireTime() time.Time {
	if h == nil || h.s == nil {
		return time.Time{}
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.fire
}

// IsPeriodic reports whether the task repeats.
func (h *Handle) IsPeriodic() bool {
	return h != nil && h.period > 0
}

// Config configures a Scheduler.
type Config struct {
	// Clock is the time source. Nil uses the wall clock.
	Clock Clock

	// Logger receives debug output. Nil discards.
	Logger *slog.Logger
}

// Scheduler is a single-goroutine task queue.
type Scheduler struct {
	mu sync.Mutex

	clock  Clock
	logger *slog.Logger

	queue   taskQueue
	nextSeq uint64
	holds   int
	stopped bool

	// wake interrupts a waiting Run when the queue changes.
	wake chan struct{}
}

// New creates a scheduler on the wall clock.
func New() *Scheduler {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a scheduler with the given configuration.
func NewWithConfig(cfg Config) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		clock:  clock,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Post schedules fn to run once after delay. A negative delay is zero.
// Post is safe to call from any goroutine.
func (s *Scheduler) Post(fn Task, delay time.Duration) *Handle {
	if delay < 0 {
		delay = 0
	}
	return s.push(fn, delay, 0)
}

// PostPeriodic schedules fn to run every period, first after one period.
// A non-positive period behaves like Post with zero delay.
func (s *Scheduler) PostPeriodic(fn Task, period time.Duration) *Handle {
	if period <= 0 {
		return s.push(fn, 0, 0)
	}
	return s.push(fn, period, period)
}

func (s *Scheduler) push(fn Task, delay, period time.Duration) *Handle {
	s.mu.Lock()
	h := &Handle{
		s:      s,
		fn:     fn,
		fire:   s.clock.Now().Add(delay),
		period: period,
		seq:    s.nextSeq,
		index:  -1,
	}
	s.nextSeq++
	heap.Push(&s.queue, h)
	s.mu.Unlock()

	s.signal()
	return h
}

// Cancel removes a task. Cancelling a task that already fired, or one
// already cancelled, does nothing. Cancelling a periodic task from inside
// its own callback prevents all further occurrences.
func (s *Scheduler) Cancel(h *Handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.cancelled || h.done {
		return
	}
	h.cancelled = true
	if h.index >= 0 {
		heap.Remove(&s.queue, h.index)
	}
}

// Len returns the number of queued tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Hold keeps Run alive while asynchronous work is outstanding, even if the
// queue is empty. The returned release function may be called more than
// once; only the first call counts.
func (s *Scheduler) Hold() (release func()) {
	s.mu.Lock()
	s.holds++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.holds--
			s.mu.Unlock()
			s.signal()
		})
	}
}

// Stop makes Run return after the current task. Stop is permanent; tasks
// posted afterwards are never run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.signal()
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Run executes tasks until Stop is called, ctx is cancelled, or the queue is
// permanently empty. It returns ctx.Err() on cancellation and nil otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Debug("scheduler running")
	defer s.logger.Debug("scheduler exited")

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return nil
		}
		if s.queue.Len() == 0 && s.holds == 0 {
			s.mu.Unlock()
			return nil
		}

		var timer <-chan time.Time
		stop := func() {}
		if s.queue.Len() > 0 {
			next := s.queue[0]
			wait := next.fire.Sub(s.clock.Now())
			if wait <= 0 {
				h := s.pop()
				s.mu.Unlock()
				s.execute(h)
				continue
			}
			timer, stop = s.clock.After(wait)
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			stop()
			return ctx.Err()
		case <-s.wake:
		case <-timer:
		}
		stop()
	}
}

// RunUntil executes every task due at or before deadline, in order, and
// returns how many ran. With a ManualClock the clock is moved to each task's
// fire time before it runs and to deadline at the end. With any other clock
// only tasks that are already due are run.
func (s *Scheduler) RunUntil(deadline time.Time) int {
	manual, _ := s.clock.(*ManualClock)
	limit := deadline
	if manual == nil && s.clock.Now().Before(limit) {
		limit = s.clock.Now()
	}

	ran := 0
	for {
		s.mu.Lock()
		if s.stopped || s.queue.Len() == 0 || s.queue[0].fire.After(limit) {
			s.mu.Unlock()
			break
		}
		h := s.pop()
		s.mu.Unlock()

		if manual != nil {
			manual.AdvanceTo(h.fire)
		}
		s.execute(h)
		ran++
	}

	if manual != nil {
		manual.AdvanceTo(deadline)
	}
	return ran
}

// RunFor is RunUntil(Now() + d).
func (s *Scheduler) RunFor(d time.Duration) int {
	return s.RunUntil(s.clock.Now().Add(d))
}

// pop removes the head of the queue. Caller holds mu.
func (s *Scheduler) pop() *Handle {
	return heap.Pop(&s.queue).(*Handle)
}

func (s *Scheduler) execute(h *Handle) {
	h.fn()

	s.mu.Lock()
	defer s.mu.Unlock()

	if h.period <= 0 || h.cancelled {
		h.done = true
		return
	}
	h.fire = h.fire.Add(h.period)
	h.seq = s.nextSeq
	s.nextSeq++
	heap.Push(&s.queue, h)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// taskQueue is a min-heap ordered by (fire time, post sequence).
type taskQueue []*Handle

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].fire.Equal(q[j].fire) {
		return q[i].seq < q[j].seq
	}
	return q[i].fire.Before(q[j].fire)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	h := x.(*Handle)
	h.index = len(*q)
	*q = append(*q, h)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*q = old[:n-1]
	return h
}
