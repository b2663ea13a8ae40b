package domain

import (
	"errors"
	"time"
)

// User mirrors a provider-managed account. The provider owns credentials and
// profile; this row only anchors sessions and activity to an internal ID.
type User struct {
	ID        string
	Subject   string // provider subject (sub claim), unique
	Email     string
	CreatedAt time.Time
	LastLogin *time.Time // nil until first verified request
	IsActive  bool
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Subject == "" {
		return errors.New("subject is required")
	}
	return nil
}
