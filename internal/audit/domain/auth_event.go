package domain

import "time"

// AuthEvent is one recorded authentication or security occurrence.
// Identifier is the sign-in identifier (usually an email) when the event
// happened before a user could be resolved; UserID is set once one is known.
type AuthEvent struct {
	ID         string
	UserID     string
	Identifier string
	EventType  string
	Result     string
	Severity   string
	IP         string
	UserAgent  string
	Metadata   string
	CreatedAt  time.Time
}
