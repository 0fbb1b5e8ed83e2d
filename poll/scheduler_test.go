package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingPoller struct {
	calls atomic.Int32
}

func (p *countingPoller) CheckAll(context.Context) error {
	p.calls.Add(1)
	return nil
}

type blockingPoller struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (p *blockingPoller) CheckAll(context.Context) error {
	p.calls.Add(1)
	p.started <- struct{}{}
	<-p.release
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSchedulerRunsFirstPassWhenReady(t *testing.T) {
	poller := &countingPoller{}
	s := NewScheduler(poller, nil, time.Hour, testLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return poller.calls.Load() == 1 })
}

func TestSchedulerStopsWhileWaitingForReady(t *testing.T) {
	poller := &countingPoller{}
	notReady := func(context.Context) error { return errors.New("bot offline") }
	s := NewScheduler(poller, notReady, time.Hour, testLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return while delivery was unready")
	}
	if poller.calls.Load() != 0 {
		t.Errorf("pass ran before delivery was ready, calls = %d", poller.calls.Load())
	}
}

func TestScheduledTickSkipsWhenPassRunning(t *testing.T) {
	poller := &countingPoller{}
	s := NewScheduler(poller, nil, time.Hour, testLogger())
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	s.mu.Lock()
	s.scheduledTick() // overlapping tick must bail out, not queue
	if got := poller.calls.Load(); got != 0 {
		t.Fatalf("overlapping tick ran the poller, calls = %d", got)
	}
	s.mu.Unlock()

	s.scheduledTick()
	if got := poller.calls.Load(); got != 1 {
		t.Fatalf("tick after release should run once, calls = %d", got)
	}
}

func TestScheduledTickSkipsAfterCancel(t *testing.T) {
	poller := &countingPoller{}
	s := NewScheduler(poller, nil, time.Hour, testLogger())
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.cancel()

	s.scheduledTick()
	if got := poller.calls.Load(); got != 0 {
		t.Fatalf("tick ran after cancellation, calls = %d", got)
	}
}

func TestTriggerWaitsBehindRunningPass(t *testing.T) {
	poller := &blockingPoller{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewScheduler(poller, nil, time.Hour, testLogger())
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	go s.scheduledTick()
	<-poller.started

	triggered := make(chan error, 1)
	go func() { triggered <- s.Trigger(context.Background()) }()

	select {
	case err := <-triggered:
		t.Fatalf("Trigger() returned %v while a pass was still running", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(poller.release)
	<-poller.started // the trigger's own pass

	select {
	case err := <-triggered:
		if err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger() never completed after the running pass finished")
	}
	if got := poller.calls.Load(); got != 2 {
		t.Errorf("expected 2 passes, got %d", got)
	}
}
