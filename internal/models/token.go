package models

import "time"

// RefreshToken represents a persisted refresh token session. Only the SHA-256
// digest of the token value is stored.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress *string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string    `db:"user_agent" json:"user_agent,omitempty"`
}

// Expired reports whether the session can no longer be rotated at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
