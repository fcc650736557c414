package auth

import "time"

// Credentials are the login request inputs.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SessionRecord mirrors one row of the sessions table. Session state lives
// in Redis; this row is the durable record for admin visibility.
type SessionRecord struct {
	ID        string
	UserID    int64
	IP        string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
}
