// Package ratelimit implements advisory sliding-window rate limits keyed by
// (identifier, operation). Checks are read-only; callers record attempts
// separately, so failure-counting operations only record what should count.
//
// The limiter is advisory by contract: when it cannot decide (unknown
// operation, missing policy) it allows. An internal fault must never turn
// into a user-facing denial.
package ratelimit

import (
	"log"
	"sync"
	"time"
)

// Operation names a rate-limited action.
type Operation string

const (
	OpSignIn       Operation = "sign_in"
	OpRegistration Operation = "registration"
	OpTokenVerify  Operation = "token_verify"
	OpWebsocket    Operation = "websocket"
	OpPerUser      Operation = "per_user"
	OpPerIP        Operation = "per_ip"
)

// Policy bounds one operation: at most Limit attempts per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Policies maps operations to their bounds.
type Policies map[Operation]Policy

// DefaultPolicies returns the stock limits.
func DefaultPolicies() Policies {
	return Policies{
		OpSignIn:       {Limit: 5, Window: 30 * time.Minute},
		OpRegistration: {Limit: 3, Window: time.Hour},
		OpTokenVerify:  {Limit: 1000, Window: time.Hour},
		OpWebsocket:    {Limit: 200, Window: time.Hour},
		OpPerUser:      {Limit: 50, Window: time.Hour},
		OpPerIP:        {Limit: 100, Window: time.Hour},
	}
}

// Decision is the outcome of an advisory check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when allowed
	ResetAt    time.Time     // when the oldest counted attempt ages out
}

// Status reports current window usage for an (identifier, operation) pair.
type Status struct {
	Used      int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type bucketKey struct {
	identifier string
	op         Operation
}

// Limiter holds sliding windows in memory. Safe for concurrent use.
type Limiter struct {
	policies Policies
	now      func() time.Time

	mu      sync.Mutex
	buckets map[bucketKey][]time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLimiterClock overrides the limiter clock. For tests.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter with the given policies. nil policies means defaults.
func New(policies Policies, opts ...LimiterOption) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	l := &Limiter{
		policies: policies,
		now:      func() time.Time { return time.Now().UTC() },
		buckets:  map[bucketKey][]time.Time{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check reports whether another attempt is currently within bounds. It does
// not record anything. Unknown operations allow (fail open).
func (l *Limiter) Check(identifier string, op Operation) Decision {
	pol, ok := l.policies[op]
	if !ok || pol.Limit <= 0 || pol.Window <= 0 {
		log.Printf("ratelimit: no policy for operation %q, allowing", op)
		return Decision{Allowed: true, Limit: 0, Remaining: 1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := bucketKey{identifier, op}
	attempts := l.prune(key, now.Add(-pol.Window))

	d := Decision{Limit: pol.Limit, Remaining: pol.Limit - len(attempts)}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if len(attempts) > 0 {
		d.ResetAt = attempts[0].Add(pol.Window)
	}
	if len(attempts) < pol.Limit {
		d.Allowed = true
		return d
	}
	d.RetryAfter = d.ResetAt.Sub(now)
	if d.RetryAfter < 0 {
		d.RetryAfter = 0
	}
	return d
}

// Record counts one attempt against the (identifier, operation) window.
func (l *Limiter) Record(identifier string, op Operation) {
	pol, ok := l.policies[op]
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	key := bucketKey{identifier, op}
	attempts := l.prune(key, now.Add(-pol.Window))
	l.buckets[key] = append(attempts, now)
}

// Status reports window usage without recording.
func (l *Limiter) Status(identifier string, op Operation) Status {
	pol, ok := l.policies[op]
	if !ok {
		return Status{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	attempts := l.prune(bucketKey{identifier, op}, now.Add(-pol.Window))
	st := Status{Used: len(attempts), Limit: pol.Limit, Remaining: pol.Limit - len(attempts)}
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	if len(attempts) > 0 {
		st.ResetAt = attempts[0].Add(pol.Window)
	}
	return st
}

// Reset drops the window for one (identifier, operation) pair, e.g. after a
// successful sign-in clears accumulated failures.
func (l *Limiter) Reset(identifier string, op Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, bucketKey{identifier, op})
}

// Cleanup drops attempts older than maxAge and deletes emptied buckets.
// Returns how many buckets were deleted. Idempotent.
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxAge)
	deleted := 0
	for key, attempts := range l.buckets {
		kept := attempts[:0]
		for _, t := range attempts {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(l.buckets, key)
			deleted++
			continue
		}
		l.buckets[key] = kept
	}
	return deleted
}

// prune must be called with l.mu held. Drops attempts at or before cutoff
// and returns the remaining window.
func (l *Limiter) prune(key bucketKey, cutoff time.Time) []time.Time {
	attempts := l.buckets[key]
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		attempts = attempts[i:]
		if len(attempts) == 0 {
			delete(l.buckets, key)
		} else {
			l.buckets[key] = attempts
		}
	}
	return attempts
}
