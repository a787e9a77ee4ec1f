package models

import "time"

// SourceToken authorizes publishing timeline updates to one source
type SourceToken struct {
	Token     string    // The actual token string
	SourceKey string    // Source key this token is valid for
	CreatedAt time.Time // When token was created
	ExpiresAt time.Time // When token expires
	IsRevoked bool      // Whether token has been revoked
}

// IsValid checks if the token is still valid
func (t *SourceToken) IsValid() bool {
	return !t.IsRevoked && time.Now().Before(t.ExpiresAt)
}
