// Package audit persists authentication and security events. Recording is
// best-effort: a storage failure is logged and never surfaced to the code
// path that produced the event.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"minutes-maker/backend/internal/audit/domain"
	auditrepo "minutes-maker/backend/internal/audit/repository"
)

// Result values for auth events.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// SeverityInfo is the default severity for routine auth events.
const SeverityInfo = "info"

// EventLogger records a single auth event. Implementations must be
// best-effort and must not block the caller on persistence.
type EventLogger interface {
	LogAuth(ctx context.Context, e *domain.AuthEvent)
}

// Logger implements EventLogger on top of the audit repository.
type Logger struct {
	repo auditrepo.Repository
	now  func() time.Time
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithLoggerClock overrides the logger clock. For tests.
func WithLoggerClock(now func() time.Time) LoggerOption {
	return func(l *Logger) { l.now = now }
}

// NewLogger returns an EventLogger that persists to repo. repo may be nil;
// recording is then a no-op.
func NewLogger(repo auditrepo.Repository, opts ...LoggerOption) *Logger {
	l := &Logger{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogAuth assigns the event an ID and timestamp and persists it.
// Best-effort: errors are logged and not returned.
func (l *Logger) LogAuth(ctx context.Context, e *domain.AuthEvent) {
	if l.repo == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if err := l.repo.Create(ctx, e); err != nil {
		log.Printf("audit: failed to record %s event: %v", e.EventType, err)
	}
}
