package telemetry

import (
	"context"

	"minutes-maker/backend/internal/secmon"
	"minutes-maker/backend/internal/telemetry/domain"
)

// MonitorSink adapts event emitters into a monitor sink. Each detected
// event is fanned out to every emitter asynchronously so detection never
// waits on an exporter.
func MonitorSink(emitters ...EventEmitter) secmon.SinkFunc {
	return func(ctx context.Context, e *secmon.Event) {
		event := &domain.SecurityEvent{
			ID:         e.ID,
			UserID:     e.UserID,
			Identifier: e.Identifier,
			EventType:  e.Type,
			Severity:   string(e.Severity),
			Source:     "security_monitor",
			IP:         e.IP,
			Operation:  e.Operation,
			Metadata:   e.Details,
			CreatedAt:  e.OccurredAt,
		}
		for _, em := range emitters {
			EmitAsync(em, ctx, event)
		}
	}
}

// FanoutSink composes monitor sinks so one detection feeds several
// consumers (audit trail, telemetry exporters).
func FanoutSink(sinks ...secmon.Sink) secmon.SinkFunc {
	return func(ctx context.Context, e *secmon.Event) {
		for _, s := range sinks {
			if s != nil {
				s.Publish(ctx, e)
			}
		}
	}
}
