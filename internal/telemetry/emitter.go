// Package telemetry fans security events out to external sinks. Emitting is
// best-effort; callers log and ignore errors.
package telemetry

import (
	"context"

	"minutes-maker/backend/internal/telemetry/domain"
)

// EventEmitter emits security events (e.g. to OTel Logs or Kafka).
// Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.SecurityEvent) error
}
