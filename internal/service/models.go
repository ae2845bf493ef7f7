package service

import (
	"time"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
)

// TokenTypeBearer is the token_type of every token response.
const TokenTypeBearer = "Bearer"

// TokenPair is returned by first-party login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenResponse is the OAuth2 token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// UserView is the public representation of a user.
type UserView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	IsVerified  bool      `json:"is_verified"`
	HasPassword bool      `json:"has_password"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewUserView projects a user for API responses.
func NewUserView(u domain.User) UserView {
	return UserView{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		PhoneNumber: u.PhoneNumber,
		IsVerified:  u.IsVerified,
		HasPassword: u.HasPassword(),
		CreatedAt:   u.CreatedAt,
	}
}

// ClientView is returned once on client registration; the secret is not retrievable later.
type ClientView struct {
	ClientID     string            `json:"client_id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	ClientType   domain.ClientType `json:"client_type"`
	RedirectURI  string            `json:"redirect_uri"`
	GrantTypes   string            `json:"grant_types"`
	Scopes       string            `json:"scopes"`
	CreatedAt    time.Time         `json:"created_at"`
}

// NewClientView projects a freshly registered client.
func NewClientView(c domain.OAuth2Client) ClientView {
	return ClientView{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Name:         c.Name,
		Description:  c.Description,
		ClientType:   c.ClientType,
		RedirectURI:  c.RedirectURI,
		GrantTypes:   c.GrantTypes,
		Scopes:       c.Scopes,
		CreatedAt:    c.CreatedAt,
	}
}
