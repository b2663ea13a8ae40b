package audit

import (
	"context"
	"encoding/json"
	"log"

	"minutes-maker/backend/internal/audit/domain"
	"minutes-maker/backend/internal/secmon"
)

// SecuritySink adapts an EventLogger into a monitor sink so detected
// security events land in the same audit trail as sign-in activity.
func SecuritySink(logger EventLogger) secmon.SinkFunc {
	return func(ctx context.Context, e *secmon.Event) {
		if logger == nil {
			return
		}
		var metadata string
		if len(e.Details) > 0 {
			b, err := json.Marshal(e.Details)
			if err != nil {
				log.Printf("audit: failed to encode details for %s: %v", e.Type, err)
			} else {
				metadata = string(b)
			}
		}
		logger.LogAuth(ctx, &domain.AuthEvent{
			ID:         e.ID,
			UserID:     e.UserID,
			Identifier: e.Identifier,
			EventType:  e.Type,
			Result:     ResultFailure,
			Severity:   string(e.Severity),
			IP:         e.IP,
			Metadata:   metadata,
			CreatedAt:  e.OccurredAt,
		})
	}
}
