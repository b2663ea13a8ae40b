package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSweeper struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	idleBefore time.Time
	notify    chan struct{}
}

func (f *fakeSweeper) DeactivateStale(_ context.Context, _, idleBefore time.Time) (int64, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.idleBefore = idleBefore
	f.mu.Unlock()
	if f.notify != nil {
		f.notify <- struct{}{}
	}
	if n <= f.failFirst {
		return 0, errors.New("db down")
	}
	return 3, nil
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEvictor struct {
	mu     sync.Mutex
	ages   []time.Duration
	notify chan struct{}
}

func (f *fakeEvictor) Cleanup(maxAge time.Duration) int {
	f.mu.Lock()
	f.ages = append(f.ages, maxAge)
	f.mu.Unlock()
	if f.notify != nil {
		f.notify <- struct{}{}
	}
	return 1
}

func TestSweepSessions_UsesInactivityAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sw := &fakeSweeper{}
	s := NewScheduler(sw, Config{InactivityAge: 2 * time.Hour}, nil,
		WithSchedulerClock(func() time.Time { return now }))

	if err := s.SweepSessions(context.Background()); err != nil {
		t.Fatalf("SweepSessions: %v", err)
	}
	want := now.Add(-2 * time.Hour)
	if !sw.idleBefore.Equal(want) {
		t.Errorf("idleBefore = %v, want %v", sw.idleBefore, want)
	}
}

func TestSweepSessions_PropagatesError(t *testing.T) {
	sw := &fakeSweeper{failFirst: 1}
	s := NewScheduler(sw, Config{}, nil)
	if err := s.SweepSessions(context.Background()); err == nil {
		t.Fatal("expected sweep error")
	}
}

func TestEvictCaches_RunsAllEvictors(t *testing.T) {
	a := &fakeEvictor{}
	b := &fakeEvictor{}
	s := NewScheduler(nil, Config{MaxCacheAge: 6 * time.Hour}, []CacheEvictor{a, nil, b})

	s.EvictCaches()
	if len(a.ages) != 1 || len(b.ages) != 1 {
		t.Fatalf("evictor calls = %d, %d; want 1 each", len(a.ages), len(b.ages))
	}
	if a.ages[0] != 6*time.Hour {
		t.Errorf("maxAge = %v, want 6h", a.ages[0])
	}
}

func TestRun_CancelStopsLoops(t *testing.T) {
	sw := &fakeSweeper{notify: make(chan struct{}, 16)}
	ev := &fakeEvictor{notify: make(chan struct{}, 16)}
	s := NewScheduler(sw, Config{
		SweepInterval:    time.Hour,
		EvictionInterval: time.Hour,
	}, []CacheEvictor{ev})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(finished)
	}()

	// Both loops run an immediate first cycle.
	waitSignal(t, sw.notify, "sweep")
	waitSignal(t, ev.notify, "evict")

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_BacksOffAfterFailedSweep(t *testing.T) {
	sw := &fakeSweeper{failFirst: 1, notify: make(chan struct{}, 16)}
	s := NewScheduler(sw, Config{
		SweepInterval:    time.Hour, // regular cadence far beyond the test
		EvictionInterval: time.Hour,
		FailureBackoff:   10 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// First cycle fails; the retry must arrive on the backoff cadence, not
	// after the full sweep interval.
	waitSignal(t, sw.notify, "initial sweep")
	waitSignal(t, sw.notify, "backoff retry")
	if sw.count() < 2 {
		t.Fatalf("sweep calls = %d, want >= 2", sw.count())
	}
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
