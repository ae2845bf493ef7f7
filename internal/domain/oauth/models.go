package oauth

import "time"

// State is persisted between /social/{provider}/login and the provider callback.
type State struct {
	Provider  string    `json:"provider"`
	Redirect  string    `json:"redirect,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the normalised identity returned by a social provider.
type Profile struct {
	ProviderUserID string `json:"provider_user_id"`
	Email          string `json:"email,omitempty"`
	Name           string `json:"name,omitempty"`
}

// ExchangeGrant is the payload behind a one-time social exchange code.
type ExchangeGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IsNewUser    bool   `json:"is_new_user"`
}
