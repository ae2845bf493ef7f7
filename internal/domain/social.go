package domain

import (
	"strings"
	"time"
)

// SocialProvider names a third-party identity provider.
type SocialProvider string

const (
	ProviderGoogle SocialProvider = "google"
	ProviderKakao  SocialProvider = "kakao"
	ProviderNaver  SocialProvider = "naver"
)

// ParseSocialProvider normalises name and reports whether it is a known provider.
func ParseSocialProvider(name string) (SocialProvider, bool) {
	p := SocialProvider(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case ProviderGoogle, ProviderKakao, ProviderNaver:
		return p, true
	}
	return "", false
}

// SocialAccount links a user to an identity at a social provider.
type SocialAccount struct {
	ID             int64          `json:"id,string"`
	UserID         string         `json:"user_id"`
	Provider       SocialProvider `json:"provider"`
	ProviderUserID string         `json:"provider_user_id"`
	Email          string         `json:"email,omitempty"`
	Name           string         `json:"name,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
