package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobsRunUntilStopped(t *testing.T) {
	s := New()
	var fast, slow atomic.Int32
	if err := s.Every("fast", 5*time.Millisecond, func(context.Context) { fast.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := s.Every("slow", time.Hour, func(context.Context) { slow.Add(1) }); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for fast.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if fast.Load() < 3 {
		t.Errorf("fast job ran %d times, want >= 3", fast.Load())
	}
	if slow.Load() != 0 {
		t.Errorf("slow job ran %d times, want 0", slow.Load())
	}

	after := fast.Load()
	time.Sleep(30 * time.Millisecond)
	if fast.Load() != after {
		t.Error("job kept running after Stop")
	}
}

func TestDisabledJob(t *testing.T) {
	s := New()
	if err := s.Every("off", 0, func(context.Context) {}); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Jobs()); n != 0 {
		t.Errorf("jobs = %d, want 0", n)
	}
}

func TestEveryWhileRunning(t *testing.T) {
	s := New()
	s.Start(context.Background())
	defer s.Stop()
	if err := s.Every("late", time.Second, func(context.Context) {}); err == nil {
		t.Error("expected error adding job while running")
	}
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	s := New()
	var runs atomic.Int32
	_ = s.Every("flaky", 5*time.Millisecond, func(context.Context) {
		if runs.Add(1) == 1 {
			panic("boom")
		}
	})
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Error("job did not run again after panic")
	}
}

func TestParentContextCancels(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	_ = s.Every("ctx", time.Millisecond, func(context.Context) {})
	s.Start(ctx)
	cancel()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after parent cancel")
	}
}
