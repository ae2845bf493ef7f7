package domain

import (
	"strings"
	"time"
)

// ClientType distinguishes clients that can keep a secret from those that cannot.
type ClientType string

const (
	ClientConfidential ClientType = "confidential"
	ClientPublic       ClientType = "public"
)

// Valid reports whether t is a known client type.
func (t ClientType) Valid() bool {
	return t == ClientConfidential || t == ClientPublic
}

// Grant types supported by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// DefaultScopes are granted to clients that register without an explicit scope list.
const DefaultScopes = "openid profile email"

// OAuth2Client is a downstream application registered against this provider.
type OAuth2Client struct {
	ID           int64
	ClientID     string
	ClientSecret string
	Name         string
	Description  string
	ClientType   ClientType
	RedirectURI  string
	GrantTypes   string
	Scopes       string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsConfidential reports whether the client must authenticate with a secret.
func (c OAuth2Client) IsConfidential() bool {
	return c.ClientType == ClientConfidential
}

// SupportsGrant reports whether grant is listed in the client's grant types.
func (c OAuth2Client) SupportsGrant(grant string) bool {
	fields := strings.FieldsFunc(c.GrantTypes, func(r rune) bool { return r == ',' || r == ' ' })
	for _, g := range fields {
		if g == grant {
			return true
		}
	}
	return false
}
