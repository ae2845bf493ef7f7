package domain

import "time"

// RefreshToken is one issued, rotatable refresh credential. Only the hash of the raw token is kept.
type RefreshToken struct {
	ID          string
	TokenHash   string
	UserID      string
	FamilyID    string
	RotatedFrom *string
	ClientID    string
	Scope       string
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	CreatedAt   time.Time
}

// IsActive reports whether the record is unrevoked and unexpired at now.
func (t RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// Code challenge methods accepted at /oauth2/authorize.
const (
	CodeChallengeS256  = "S256"
	CodeChallengePlain = "plain"
)

// AuthorizationCode binds a user, client, redirect URI and scopes to a one-time code.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              string    `json:"scopes"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	State               string    `json:"state,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	IsUsed              bool      `json:"is_used"`
	CreatedAt           time.Time `json:"created_at"`
}

// Expired reports whether the code can no longer be redeemed at now.
func (c AuthorizationCode) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
