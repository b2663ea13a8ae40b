// Package secmon watches authentication and usage activity for abuse
// patterns. Detection is synchronous bookkeeping over in-memory windows; a
// triggered rule emits exactly one event and never blocks or fails the
// request being checked.
package secmon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity grades an event.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Event types.
const (
	EventBruteForce         = "brute_force_detected"
	EventCredentialStuffing = "credential_stuffing_detected"
	EventLockoutRisk        = "lockout_risk"
	EventSuspiciousLogin    = "suspicious_login_pattern"
	EventMeteredAbuse       = "metered_abuse"
	EventHighValue          = "high_value_execution"
)

// Event is one detected security occurrence.
type Event struct {
	ID         string
	Type       string
	Severity   Severity
	Identifier string // sign-in identifier (e.g. email), when relevant
	IP         string
	UserID     string
	Operation  string
	Details    map[string]any
	OccurredAt time.Time
}

// Sink receives emitted events. Implementations must be best-effort; the
// monitor does not care whether delivery succeeded.
type Sink interface {
	Publish(ctx context.Context, e *Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e *Event)

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, e *Event) { f(ctx, e) }

// Config holds detection thresholds.
type Config struct {
	BruteForceThreshold int
	BruteForceWindow    time.Duration

	StuffingMinIdentifiers int
	StuffingMinAttempts    int
	StuffingWindow         time.Duration

	// LockoutLimit / LockoutWindow mirror the sign-in rate limit so lockout
	// risk can be flagged before the limiter starts denying.
	LockoutLimit  int
	LockoutWindow time.Duration

	SuccessLoginThreshold int
	SuccessLoginWindow    time.Duration

	MeteredAbuseThreshold int
	MeteredAbuseWindow    time.Duration
	HighValueThreshold    float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		BruteForceThreshold:    10,
		BruteForceWindow:       15 * time.Minute,
		StuffingMinIdentifiers: 5,
		StuffingMinAttempts:    20,
		StuffingWindow:         30 * time.Minute,
		LockoutLimit:           5,
		LockoutWindow:          30 * time.Minute,
		SuccessLoginThreshold:  5,
		SuccessLoginWindow:     time.Hour,
		MeteredAbuseThreshold:  10,
		MeteredAbuseWindow:     time.Hour,
		HighValueThreshold:     1000,
	}
}

type ipAttempt struct {
	at         time.Time
	identifier string
}

type meteredExec struct {
	at     time.Time
	amount float64
}

// Summary aggregates recent events for reporting.
type Summary struct {
	Window       time.Duration
	Total        int
	ByType       map[string]int
	BySeverity   map[Severity]int
	TopOffenders []Offender
}

// Offender pairs an identifier with its failure count inside the window.
type Offender struct {
	Identifier string
	Failures   int
}

// Monitor tracks activity windows and emits events to a sink.
type Monitor struct {
	cfg  Config
	sink Sink
	now  func() time.Time

	mu         sync.Mutex
	failures   map[string][]time.Time // by identifier
	ipAttempts map[string][]ipAttempt // by source IP
	successes  map[string][]time.Time // by identifier
	metered    map[string][]meteredExec
	events     []*Event
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock overrides the monitor clock. For tests.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor returns a Monitor publishing to sink. sink may be nil; events
// are then only retained for Summary.
func NewMonitor(cfg Config, sink Sink, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		cfg:        cfg,
		sink:       sink,
		now:        func() time.Time { return time.Now().UTC() },
		failures:   map[string][]time.Time{},
		ipAttempts: map[string][]ipAttempt{},
		successes:  map[string][]time.Time{},
		metered:    map[string][]meteredExec{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordAuthFailure tracks a failed sign-in for identifier from ip and runs
// the brute-force, credential-stuffing, and lockout-risk rules.
func (m *Monitor) RecordAuthFailure(ctx context.Context, identifier, ip string) {
	m.mu.Lock()
	now := m.now()

	// Failures are retained for the widest failure-counting window; each
	// rule counts at its own cutoff so a short brute-force window cannot
	// truncate the lockout tally.
	m.failures[identifier] = append(pruneTimes(m.failures[identifier], now.Add(-m.failureRetention())), now)
	failCount := countSince(m.failures[identifier], now.Add(-m.cfg.BruteForceWindow))

	var emitted []*Event
	if failCount >= m.cfg.BruteForceThreshold {
		emitted = append(emitted, &Event{
			Type: EventBruteForce, Severity: SeverityHigh,
			Identifier: identifier, IP: ip,
			Details: map[string]any{"failures": failCount, "window": m.cfg.BruteForceWindow.String()},
		})
	}

	if ip != "" {
		m.ipAttempts[ip] = append(pruneIPAttempts(m.ipAttempts[ip], now.Add(-m.cfg.StuffingWindow)), ipAttempt{at: now, identifier: identifier})
		attempts := m.ipAttempts[ip]
		distinct := map[string]struct{}{}
		for _, a := range attempts {
			distinct[a.identifier] = struct{}{}
		}
		if len(distinct) >= m.cfg.StuffingMinIdentifiers && len(attempts) >= m.cfg.StuffingMinAttempts {
			emitted = append(emitted, &Event{
				Type: EventCredentialStuffing, Severity: SeverityHigh,
				IP: ip,
				Details: map[string]any{
					"attempts": len(attempts), "identifiers": len(distinct),
					"window": m.cfg.StuffingWindow.String(),
				},
			})
		}
	}

	if m.cfg.LockoutLimit > 0 {
		recent := countSince(m.failures[identifier], now.Add(-m.cfg.LockoutWindow))
		switch {
		case recent >= m.cfg.LockoutLimit:
			emitted = append(emitted, &Event{
				Type: EventLockoutRisk, Severity: SeverityHigh,
				Identifier: identifier, IP: ip,
				Details: map[string]any{"failures": recent, "limit": m.cfg.LockoutLimit},
			})
		case recent*100 >= m.cfg.LockoutLimit*80:
			emitted = append(emitted, &Event{
				Type: EventLockoutRisk, Severity: SeverityMedium,
				Identifier: identifier, IP: ip,
				Details: map[string]any{"failures": recent, "limit": m.cfg.LockoutLimit},
			})
		}
	}

	m.finish(ctx, now, emitted)
}

// failureRetention is how long per-identifier failures are kept.
func (m *Monitor) failureRetention() time.Duration {
	if m.cfg.LockoutWindow > m.cfg.BruteForceWindow {
		return m.cfg.LockoutWindow
	}
	return m.cfg.BruteForceWindow
}

// RecordAuthSuccess clears identifier's failure window and runs the
// high-frequency sign-in rule.
func (m *Monitor) RecordAuthSuccess(ctx context.Context, identifier, ip string) {
	m.mu.Lock()
	now := m.now()

	delete(m.failures, identifier)
	m.successes[identifier] = append(pruneTimes(m.successes[identifier], now.Add(-m.cfg.SuccessLoginWindow)), now)

	var emitted []*Event
	if n := len(m.successes[identifier]); m.cfg.SuccessLoginThreshold > 0 && n >= m.cfg.SuccessLoginThreshold {
		emitted = append(emitted, &Event{
			Type: EventSuspiciousLogin, Severity: SeverityMedium,
			Identifier: identifier, IP: ip,
			Details: map[string]any{"logins": n, "window": m.cfg.SuccessLoginWindow.String()},
		})
	}

	m.finish(ctx, now, emitted)
}

// RecordMeteredExecution tracks one execution of a metered operation and
// runs the abuse and high-value rules. amount may be zero for unpriced
// operations.
func (m *Monitor) RecordMeteredExecution(ctx context.Context, userID, operation string, amount float64) {
	m.mu.Lock()
	now := m.now()

	key := userID + "|" + operation
	m.metered[key] = append(pruneMetered(m.metered[key], now.Add(-m.cfg.MeteredAbuseWindow)), meteredExec{at: now, amount: amount})
	execs := m.metered[key]

	var emitted []*Event
	if len(execs) >= m.cfg.MeteredAbuseThreshold {
		var total float64
		for _, e := range execs {
			total += e.amount
		}
		emitted = append(emitted, &Event{
			Type: EventMeteredAbuse, Severity: SeverityHigh,
			UserID: userID, Operation: operation,
			Details: map[string]any{
				"executions": len(execs), "total_amount": total,
				"window": m.cfg.MeteredAbuseWindow.String(),
			},
		})
	}

	if m.cfg.HighValueThreshold > 0 && amount >= m.cfg.HighValueThreshold {
		sev := SeverityMedium
		if amount >= 2*m.cfg.HighValueThreshold {
			sev = SeverityHigh
		}
		emitted = append(emitted, &Event{
			Type: EventHighValue, Severity: sev,
			UserID: userID, Operation: operation,
			Details: map[string]any{"amount": amount, "threshold": m.cfg.HighValueThreshold},
		})
	}

	m.finish(ctx, now, emitted)
}

// Summary aggregates events emitted inside the trailing window.
func (m *Monitor) Summary(window time.Duration) *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-window)
	s := &Summary{
		Window:     window,
		ByType:     map[string]int{},
		BySeverity: map[Severity]int{},
	}
	for _, e := range m.events {
		if !e.OccurredAt.After(cutoff) {
			continue
		}
		s.Total++
		s.ByType[e.Type]++
		s.BySeverity[e.Severity]++
	}

	counts := map[string]int{}
	for id, times := range m.failures {
		if n := countSince(times, cutoff); n > 0 {
			counts[id] = n
		}
	}
	for id, n := range counts {
		s.TopOffenders = append(s.TopOffenders, Offender{Identifier: id, Failures: n})
	}
	// Highest counts first; small n, insertion sort is fine.
	for i := 1; i < len(s.TopOffenders); i++ {
		for j := i; j > 0 && s.TopOffenders[j].Failures > s.TopOffenders[j-1].Failures; j-- {
			s.TopOffenders[j], s.TopOffenders[j-1] = s.TopOffenders[j-1], s.TopOffenders[j]
		}
	}
	if len(s.TopOffenders) > 10 {
		s.TopOffenders = s.TopOffenders[:10]
	}
	return s
}

// Cleanup evicts tracking entries and retained events older than maxAge.
// Returns how many tracking keys were deleted. Idempotent.
func (m *Monitor) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	deleted := 0

	for id, times := range m.failures {
		if kept := pruneTimes(times, cutoff); len(kept) == 0 {
			delete(m.failures, id)
			deleted++
		} else {
			m.failures[id] = kept
		}
	}
	for id, times := range m.successes {
		if kept := pruneTimes(times, cutoff); len(kept) == 0 {
			delete(m.successes, id)
			deleted++
		} else {
			m.successes[id] = kept
		}
	}
	for ip, attempts := range m.ipAttempts {
		if kept := pruneIPAttempts(attempts, cutoff); len(kept) == 0 {
			delete(m.ipAttempts, ip)
			deleted++
		} else {
			m.ipAttempts[ip] = kept
		}
	}
	for key, execs := range m.metered {
		if kept := pruneMetered(execs, cutoff); len(kept) == 0 {
			delete(m.metered, key)
			deleted++
		} else {
			m.metered[key] = kept
		}
	}

	kept := m.events[:0]
	for _, e := range m.events {
		if e.OccurredAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	m.events = kept

	return deleted
}

// finish stamps and retains the emitted events, releases the lock, and
// publishes. Publishing outside the lock keeps slow sinks from stalling
// detection on other goroutines.
func (m *Monitor) finish(ctx context.Context, now time.Time, emitted []*Event) {
	for _, e := range emitted {
		e.ID = uuid.New().String()
		e.OccurredAt = now
		m.events = append(m.events, e)
	}
	m.mu.Unlock()

	if m.sink == nil {
		return
	}
	for _, e := range emitted {
		m.sink.Publish(ctx, e)
	}
}

func pruneTimes(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

func pruneIPAttempts(attempts []ipAttempt, cutoff time.Time) []ipAttempt {
	i := 0
	for i < len(attempts) && !attempts[i].at.After(cutoff) {
		i++
	}
	return attempts[i:]
}

func pruneMetered(execs []meteredExec, cutoff time.Time) []meteredExec {
	i := 0
	for i < len(execs) && !execs[i].at.After(cutoff) {
		i++
	}
	return execs[i:]
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range times {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
