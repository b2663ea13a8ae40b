package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"minutes-maker/backend/internal/audit/domain"
	"minutes-maker/backend/internal/secmon"
)

// mockEventRepo implements the audit repository interface for tests.
type mockEventRepo struct {
	entries   []*domain.AuthEvent
	createErr error
}

func (m *mockEventRepo) GetByID(ctx context.Context, id string) (*domain.AuthEvent, error) {
	return nil, nil
}

func (m *mockEventRepo) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuthEvent, error) {
	return nil, nil
}

func (m *mockEventRepo) ListSince(ctx context.Context, since time.Time, limit int32) ([]*domain.AuthEvent, error) {
	return nil, nil
}

func (m *mockEventRepo) Create(ctx context.Context, e *domain.AuthEvent) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockEventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func TestLogger_LogAuth_FillsDefaults(t *testing.T) {
	repo := &mockEventRepo{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	logger := NewLogger(repo, WithLoggerClock(func() time.Time { return now }))

	logger.LogAuth(context.Background(), &domain.AuthEvent{
		UserID:    "user-1",
		EventType: "token_verified",
		Result:    ResultSuccess,
		IP:        "192.168.1.1",
	})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.ID == "" {
		t.Error("entry ID should be set")
	}
	if !e.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", e.CreatedAt, now)
	}
	if e.Severity != SeverityInfo {
		t.Errorf("severity = %q, want %q", e.Severity, SeverityInfo)
	}
	if e.UserID != "user-1" || e.EventType != "token_verified" || e.Result != ResultSuccess {
		t.Errorf("entry = %+v", e)
	}
}

func TestLogger_LogAuth_KeepsProvidedFields(t *testing.T) {
	repo := &mockEventRepo{}
	logger := NewLogger(repo)
	at := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	logger.LogAuth(context.Background(), &domain.AuthEvent{
		ID:        "evt-1",
		EventType: "sign_in_failed",
		Result:    ResultFailure,
		Severity:  "high",
		CreatedAt: at,
	})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.ID != "evt-1" || e.Severity != "high" || !e.CreatedAt.Equal(at) {
		t.Errorf("provided fields were overwritten: %+v", e)
	}
}

func TestLogger_LogAuth_RepositoryError(t *testing.T) {
	repo := &mockEventRepo{createErr: errors.New("database error")}
	logger := NewLogger(repo)

	// Best-effort: must not panic or surface the error.
	logger.LogAuth(context.Background(), &domain.AuthEvent{EventType: "sign_in"})
}

func TestLogger_LogAuth_NilRepo(t *testing.T) {
	logger := NewLogger(nil)
	logger.LogAuth(context.Background(), &domain.AuthEvent{EventType: "sign_in"})
}

func TestSecuritySink_MapsEvents(t *testing.T) {
	repo := &mockEventRepo{}
	sink := SecuritySink(NewLogger(repo))

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sink.Publish(context.Background(), &secmon.Event{
		ID:         "evt-9",
		Type:       secmon.EventBruteForce,
		Severity:   secmon.SeverityHigh,
		Identifier: "victim@example.com",
		IP:         "198.51.100.7",
		Details:    map[string]any{"failures": 10},
		OccurredAt: at,
	})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.EventType != secmon.EventBruteForce {
		t.Errorf("event_type = %q", e.EventType)
	}
	if e.Severity != "high" || e.Result != ResultFailure {
		t.Errorf("severity = %q result = %q", e.Severity, e.Result)
	}
	if e.Identifier != "victim@example.com" || e.IP != "198.51.100.7" {
		t.Errorf("identity fields = %+v", e)
	}
	if e.Metadata == "" {
		t.Error("metadata should carry the encoded details")
	}
	if !e.CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v", e.CreatedAt, at)
	}
}
