package domain

import "time"

// SecurityEvent is the wire form of a detected security occurrence fanned
// out to the telemetry pipeline (OTel logs and the Kafka security topic).
type SecurityEvent struct {
	ID         string         `json:"id,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Identifier string         `json:"identifier,omitempty"`
	EventType  string         `json:"eventType"`
	Severity   string         `json:"severity,omitempty"`
	Source     string         `json:"source,omitempty"`
	IP         string         `json:"ip,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
