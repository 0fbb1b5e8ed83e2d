package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"medal-notifier/metrics"

	"github.com/robfig/cron/v3"
)

// readyCheckInterval is how often the scheduler re-probes the delivery
// channel before the first pass.
const readyCheckInterval = 2 * time.Second

// Poller runs one full poll pass.
type Poller interface {
	CheckAll(ctx context.Context) error
}

// ReadyFunc reports whether the delivery channel can accept announcements.
type ReadyFunc func(ctx context.Context) error

// Scheduler owns the periodic poll cadence.
//
// The first pass is gated on delivery readiness. Scheduled passes that find a
// previous pass still running are skipped, not queued. Manual triggers share
// the same mutual exclusion, so two passes can never observe the same stale
// baseline and double-announce.
type Scheduler struct {
	poller   Poller
	ready    ReadyFunc
	logger   *slog.Logger
	c        *cron.Cron
	runCtx   context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	mu       sync.Mutex // serializes poll passes
}

// NewScheduler creates a scheduler that runs poller every interval once ready
// reports success. A nil ready means immediately ready.
func NewScheduler(poller Poller, ready ReadyFunc, interval time.Duration, logger *slog.Logger) *Scheduler {
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	return &Scheduler{
		poller:   poller,
		ready:    ready,
		interval: interval,
		logger:   logger,
		c:        cron.New(),
		done:     make(chan struct{}),
	}
}

// Start begins scheduling. It returns immediately; the readiness wait and the
// first pass happen in the background. Stop must be called to shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.c.AddFunc(spec, s.scheduledTick); err != nil {
		return fmt.Errorf("register poll schedule: %w", err)
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.done)

		if err := s.waitReady(s.runCtx); err != nil {
			s.logger.Info("Scheduler stopped before delivery channel became ready", "error", err)
			return
		}

		s.logger.Info("Delivery channel ready, starting poll schedule", "interval", s.interval.String())
		s.scheduledTick()
		s.c.Start()
	}()
	return nil
}

// Stop halts scheduling and waits for any in-flight pass to finish. In-flight
// upstream calls are cancelled through the run context; a dispatch cancelled
// mid-flight reports failure, so its baseline is never advanced.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done

	stopped := s.c.Stop()
	<-stopped.Done()

	// Wait out a pass started by a manual trigger.
	s.mu.Lock()
	s.mu.Unlock() //nolint:staticcheck // lock/unlock pairs as a barrier

	s.logger.Info("Poll scheduler stopped")
}

// Trigger runs a poll pass on demand, waiting behind any pass already running.
func (s *Scheduler) Trigger(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Manual poll pass triggered")
	return s.poller.CheckAll(ctx)
}

func (s *Scheduler) scheduledTick() {
	if !s.mu.TryLock() {
		s.logger.Warn("Previous poll pass still running, skipping this tick")
		metrics.TicksTotal.WithLabelValues("skipped_overlap").Inc()
		return
	}
	defer s.mu.Unlock()

	if s.runCtx.Err() != nil {
		return
	}
	if err := s.poller.CheckAll(s.runCtx); err != nil {
		s.logger.Error("Poll pass failed", "error", err)
	}
}

func (s *Scheduler) waitReady(ctx context.Context) error {
	for {
		err := s.ready(ctx)
		if err == nil {
			return nil
		}
		s.logger.Debug("Delivery channel not ready yet", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyCheckInterval):
		}
	}
}
