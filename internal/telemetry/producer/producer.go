// Package producer emits security events to Kafka for downstream consumers
// (e.g. the log-shipping worker).
package producer

import (
	"context"

	"minutes-maker/backend/internal/telemetry/domain"
)

// Producer emits security events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *domain.SecurityEvent) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
