// Package cleanup runs the background maintenance loops: the session sweep
// that deactivates expired or idle sessions, and the cache eviction that
// bounds the in-memory rate-limit and detection windows.
package cleanup

import (
	"context"
	"log"
	"time"
)

// SessionSweeper deactivates sessions past expiry or idle for too long.
type SessionSweeper interface {
	DeactivateStale(ctx context.Context, now, idleBefore time.Time) (int64, error)
}

// CacheEvictor drops tracking state older than maxAge and reports how many
// entries went away.
type CacheEvictor interface {
	Cleanup(maxAge time.Duration) int
}

// Config holds the loop cadence. Zero values fall back to defaults.
type Config struct {
	SweepInterval    time.Duration // session sweep cadence
	EvictionInterval time.Duration // cache eviction cadence
	MaxCacheAge      time.Duration // entries older than this are evicted
	InactivityAge    time.Duration // sessions idle longer than this are swept
	// FailureBackoff delays the next sweep after a failed cycle so a
	// struggling database is not hammered on the regular cadence.
	FailureBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.EvictionInterval <= 0 {
		c.EvictionInterval = 2 * time.Hour
	}
	if c.MaxCacheAge <= 0 {
		c.MaxCacheAge = 24 * time.Hour
	}
	if c.InactivityAge <= 0 {
		c.InactivityAge = 2 * time.Hour
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = time.Minute
	}
}

// Scheduler owns the maintenance goroutines.
type Scheduler struct {
	sessions SessionSweeper
	evictors []CacheEvictor
	cfg      Config
	now      func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock overrides the scheduler clock. For tests.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler wires a Scheduler. sessions may be nil; the sweep loop is
// then skipped. Nil evictors are ignored.
func NewScheduler(sessions SessionSweeper, cfg Config, evictors []CacheEvictor, opts ...SchedulerOption) *Scheduler {
	cfg.applyDefaults()
	kept := make([]CacheEvictor, 0, len(evictors))
	for _, e := range evictors {
		if e != nil {
			kept = append(kept, e)
		}
	}
	s := &Scheduler{
		sessions: sessions,
		evictors: kept,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts both loops and blocks until ctx is canceled. Each loop runs one
// cycle immediately so a restart does not postpone overdue maintenance.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() {
		s.sweepLoop(ctx)
		done <- struct{}{}
	}()
	go func() {
		s.evictLoop(ctx)
		done <- struct{}{}
	}()
	<-done
	<-done
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	if s.sessions == nil {
		return
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		next := s.cfg.SweepInterval
		if err := s.SweepSessions(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("cleanup: session sweep failed, retrying in %s: %v", s.cfg.FailureBackoff, err)
			next = s.cfg.FailureBackoff
		}
		timer.Reset(next)
	}
}

func (s *Scheduler) evictLoop(ctx context.Context) {
	if len(s.evictors) == 0 {
		return
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.EvictCaches()
		timer.Reset(s.cfg.EvictionInterval)
	}
}

// SweepSessions runs one session sweep cycle.
func (s *Scheduler) SweepSessions(ctx context.Context) error {
	now := s.now()
	n, err := s.sessions.DeactivateStale(ctx, now, now.Add(-s.cfg.InactivityAge))
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("cleanup: deactivated %d stale sessions", n)
	}
	return nil
}

// EvictCaches runs one eviction cycle across all registered evictors.
func (s *Scheduler) EvictCaches() {
	total := 0
	for _, e := range s.evictors {
		total += e.Cleanup(s.cfg.MaxCacheAge)
	}
	if total > 0 {
		log.Printf("cleanup: evicted %d cache entries", total)
	}
}
