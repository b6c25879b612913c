package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitUntil(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met within timeout")
}

func TestScheduler_RunsUntilDone(t *testing.T) {
	s := New()
	defer s.Stop()

	var count int32
	ok := s.Schedule("job-1", 5*time.Millisecond, 0, func(ctx context.Context) Outcome {
		n := atomic.AddInt32(&count, 1)
		if n < 3 {
			return Retry("not ready")
		}
		return Done()
	})
	if !ok {
		t.Fatal("Schedule returned false")
	}

	waitUntil(t, 2*time.Second, func() bool {
		return atomic.LoadInt32(&count) == 3 && s.ActiveJobs() == 0
	})
}

func TestScheduler_FatalStopsJob(t *testing.T) {
	s := New()
	defer s.Stop()

	var count int32
	s.Schedule("job-1", 5*time.Millisecond, 0, func(ctx context.Context) Outcome {
		atomic.AddInt32(&count, 1)
		return Fatal(errors.New("broken"))
	})

	waitUntil(t, 2*time.Second, func() bool {
		return s.ActiveJobs() == 0
	})

	// Give a straggler run the chance to show up before asserting.
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected exactly 1 run, got %d", got)
	}
}

func TestScheduler_ExhaustsRetryBudget(t *testing.T) {
	s := New()
	defer s.Stop()

	var count int32
	s.Schedule("job-1", 5*time.Millisecond, 3, func(ctx context.Context) Outcome {
		atomic.AddInt32(&count, 1)
		return Retry("still waiting")
	})

	waitUntil(t, 2*time.Second, func() bool {
		return s.ActiveJobs() == 0
	})

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 3 {
		t.Errorf("Expected exactly 3 runs, got %d", got)
	}
}

func TestScheduler_DuplicateKey(t *testing.T) {
	s := New()
	defer s.Stop()

	handler := func(ctx context.Context) Outcome { return Retry("waiting") }

	if ok := s.Schedule("job-1", time.Hour, 0, handler); !ok {
		t.Fatal("First Schedule returned false")
	}
	if ok := s.Schedule("job-1", time.Hour, 0, handler); ok {
		t.Error("Expected duplicate Schedule to return false")
	}
	if got := s.ActiveJobs(); got != 1 {
		t.Errorf("Expected 1 active job, got %d", got)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := New()
	defer s.Stop()

	var count int32
	s.Schedule("job-1", time.Hour, 0, func(ctx context.Context) Outcome {
		atomic.AddInt32(&count, 1)
		return Done()
	})

	s.Cancel("job-1")

	waitUntil(t, 2*time.Second, func() bool {
		return s.ActiveJobs() == 0
	})
	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("Expected cancelled job to never run, got %d runs", got)
	}

	// Same key can be scheduled again after cancellation.
	if ok := s.Schedule("job-1", time.Hour, 0, func(ctx context.Context) Outcome { return Done() }); !ok {
		t.Error("Expected re-schedule after cancel to succeed")
	}
}

func TestScheduler_StopRejectsNewJobs(t *testing.T) {
	s := New()
	s.Schedule("job-1", time.Hour, 0, func(ctx context.Context) Outcome { return Done() })
	s.Stop()

	if got := s.ActiveJobs(); got != 0 {
		t.Errorf("Expected 0 active jobs after stop, got %d", got)
	}
	if ok := s.Schedule("job-2", time.Millisecond, 0, func(ctx context.Context) Outcome { return Done() }); ok {
		t.Error("Expected Schedule after Stop to return false")
	}
}

func TestScheduler_NonPositiveInterval(t *testing.T) {
	s := New()
	defer s.Stop()

	if ok := s.Schedule("job-1", 0, 0, func(ctx context.Context) Outcome { return Done() }); ok {
		t.Error("Expected Schedule with zero interval to return false")
	}
}
