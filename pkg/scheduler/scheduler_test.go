package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

func newManual() (*Scheduler, *ManualClock) {
	clock := NewManualClock(epoch)
	return NewWithConfig(Config{Clock: clock}), clock
}

func TestOrderingByFireTimeThenPostOrder(t *testing.T) {
	s, clock := newManual()

	var order []string
	var times []time.Duration
	record := func(name string) Task {
		return func() {
			order = append(order, name)
			times = append(times, clock.Now().Sub(epoch))
		}
	}

	s.Post(record("10"), 10*time.Millisecond)
	s.Post(record("5a"), 5*time.Millisecond)
	s.Post(record("5b"), 5*time.Millisecond)
	s.Post(record("20"), 20*time.Millisecond)

	if ran := s.RunFor(time.Second); ran != 4 {
		t.Errorf("RunFor() = %d, want 4", ran)
	}

	if diff := cmp.Diff([]string{"5a", "5b", "10", "20"}, order); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
	wantTimes := []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
	if diff := cmp.Diff(wantTimes, times); diff != "" {
		t.Errorf("fire times mismatch (-want +got):\n%s", diff)
	}
}

func TestTaskNeverRunsEarly(t *testing.T) {
	s, _ := newManual()

	ran := false
	s.Post(func() { ran = true }, 100*time.Millisecond)

	s.RunFor(99 * time.Millisecond)
	if ran {
		t.Fatal("task ran before its delay elapsed")
	}
	s.RunFor(1 * time.Millisecond)
	if !ran {
		t.Error("task did not run at its fire time")
	}
}

func TestPostFromTaskRunsInSameRunUntil(t *testing.T) {
	s, _ := newManual()

	var order []int
	s.Post(func() {
		order = append(order, 1)
		s.Post(func() { order = append(order, 2) }, 0)
	}, 10*time.Millisecond)

	s.RunFor(10 * time.Millisecond)
	if diff := cmp.Diff([]int{1, 2}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestPeriodic(t *testing.T) {
	s, clock := newManual()

	var fired []time.Duration
	h := s.PostPeriodic(func() {
		fired = append(fired, clock.Now().Sub(epoch))
	}, 25*time.Second)

	if !h.IsPeriodic() {
		t.Error("IsPeriodic() = false, want true")
	}

	s.RunFor(80 * time.Second)
	want := []time.Duration{25 * time.Second, 50 * time.Second, 75 * time.Second}
	if diff := cmp.Diff(want, fired); diff != "" {
		t.Errorf("periodic fire times mismatch (-want +got):\n%s", diff)
	}
	if !h.Pending() {
		t.Error("Pending() = false for live periodic task")
	}
	if got := h.FireTime().Sub(epoch); got != 100*time.Second {
		t.Errorf("FireTime() = %v, want 100s", got)
	}
}

func TestCancelPeriodicInsideOwnCallback(t *testing.T) {
	s, _ := newManual()

	count := 0
	var h *Handle
	h = s.PostPeriodic(func() {
		count++
		if count == 2 {
			h.Cancel()
		}
	}, time.Second)

	s.RunFor(10 * time.Second)
	if count != 2 {
		t.Errorf("periodic task ran %d times, want 2", count)
	}
	if h.Pending() {
		t.Error("Pending() = true after cancel")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestCancel(t *testing.T) {
	t.Run("BeforeFire", func(t *testing.T) {
		s, _ := newManual()
		ran := false
		h := s.Post(func() { ran = true }, time.Second)
		s.Cancel(h)
		s.RunFor(2 * time.Second)
		if ran {
			t.Error("cancelled task ran")
		}
	})

	t.Run("AfterFireIsNoop", func(t *testing.T) {
		s, _ := newManual()
		count := 0
		h := s.Post(func() { count++ }, time.Second)
		s.RunFor(time.Second)
		h.Cancel()
		h.Cancel()
		if count != 1 {
			t.Errorf("count = %d, want 1", count)
		}
	})

	t.Run("OtherTasksUnaffected", func(t *testing.T) {
		s, _ := newManual()
		var order []string
		s.Post(func() { order = append(order, "a") }, time.Second)
		b := s.Post(func() { order = append(order, "b") }, time.Second)
		s.Post(func() { order = append(order, "c") }, time.Second)
		b.Cancel()
		s.RunFor(time.Second)
		if diff := cmp.Diff([]string{"a", "c"}, order); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("NilHandle", func(t *testing.T) {
		s, _ := newManual()
		s.Cancel(nil)
		var h *Handle
		h.Cancel()
		if h.Pending() {
			t.Error("nil handle reported pending")
		}
	})
}

func TestRunExitsWhenQueueEmpty(t *testing.T) {
	s := New()

	count := 0
	s.Post(func() { count++ }, time.Millisecond)
	s.Post(func() { count++ }, 2*time.Millisecond)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestRunReturnsOnStop(t *testing.T) {
	s := New()

	ticks := 0
	s.PostPeriodic(func() {
		ticks++
		if ticks == 3 {
			s.Stop()
		}
	}, time.Millisecond)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ticks != 3 {
		t.Errorf("ticks = %d, want 3", ticks)
	}
	if !s.Stopped() {
		t.Error("Stopped() = false after Stop")
	}
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	s := New()
	release := s.Hold()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestHoldKeepsRunAliveForCrossGoroutinePost(t *testing.T) {
	s := New()
	release := s.Hold()

	var got string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		s.Post(func() {
			got = "response"
			release()
		}, 0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wg.Wait()

	if got != "response" {
		t.Errorf("posted task did not run, got %q", got)
	}
}

func TestRunWithManualClock(t *testing.T) {
	s, clock := newManual()

	done := make(chan error, 1)
	fired := make(chan struct{})
	s.Post(func() { close(fired) }, time.Minute)

	go func() { done <- s.Run(context.Background()) }()

	select {
	case <-fired:
		t.Fatal("task fired without the clock moving")
	case <-time.After(10 * time.Millisecond):
	}

	clock.Advance(time.Minute)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("task did not fire after Advance")
	}
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestManualClock(t *testing.T) {
	clock := NewManualClock(epoch)

	ch, _ := clock.After(5 * time.Second)
	clock.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case at := <-ch:
		if !at.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("After delivered %v, want %v", at, epoch.Add(5*time.Second))
		}
	default:
		t.Fatal("After did not fire")
	}

	clock.AdvanceTo(epoch)
	if got := clock.Now(); !got.Equal(epoch.Add(5 * time.Second)) {
		t.Errorf("Now() = %v after moving backwards, want unchanged", got)
	}
}

func TestStopPreventsFurtherTasksInRunUntil(t *testing.T) {
	s, _ := newManual()

	ran := []string{}
	s.Post(func() {
		ran = append(ran, "stop")
		s.Stop()
	}, time.Second)
	s.Post(func() { ran = append(ran, "after") }, 2*time.Second)

	s.RunFor(time.Minute)
	if diff := cmp.Diff([]string{"stop"}, ran); diff != "" {
		t.Errorf("ran mismatch (-want +got):\n%s", diff)
	}
}

func TestRunReleasesClockWaiters(t *testing.T) {
	s, clock := newManual()
	s.Post(func() {}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Each post wakes Run, which waits on the head task again.
	for i := 0; i < 20; i++ {
		s.Post(func() {}, time.Hour)
		time.Sleep(time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for clock.Waiters() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := clock.Waiters(); got != 1 {
		t.Errorf("Waiters() = %d, want 1", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if got := clock.Waiters(); got != 0 {
		t.Errorf("Waiters() after Run = %d, want 0", got)
	}
}
