package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/Choi-Seunghwan/IdP-server/internal/config"
	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	domainoauth "github.com/Choi-Seunghwan/IdP-server/internal/domain/oauth"
)

// Provider is the capability every social identity provider exposes.
type Provider interface {
	Name() domain.SocialProvider
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchProfile(ctx context.Context, accessToken string) (domainoauth.Profile, error)
}

// ProviderDescriptor describes the endpoints and profile mapping of one provider.
type ProviderDescriptor struct {
	Name         domain.SocialProvider
	Endpoint     oauth2.Endpoint
	ProfileURL   string
	Scopes       []string
	ParseProfile func(body []byte) (domainoauth.Profile, error)
}

// OAuth2Provider implements Provider on top of golang.org/x/oauth2.
type OAuth2Provider struct {
	desc       ProviderDescriptor
	conf       *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

var _ Provider = (*OAuth2Provider)(nil)

// NewOAuth2Provider constructs a provider. A nil client falls back to one bounded by timeout.
func NewOAuth2Provider(desc ProviderDescriptor, creds config.ProviderConfig, client *http.Client, timeout time.Duration) *OAuth2Provider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &OAuth2Provider{
		desc: desc,
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Endpoint:     desc.Endpoint,
			Scopes:       desc.Scopes,
		},
		httpClient: client,
		timeout:    timeout,
	}
}

func (p *OAuth2Provider) Name() domain.SocialProvider {
	return p.desc.Name
}

func (p *OAuth2Provider) AuthorizationURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

func (p *OAuth2Provider) withClient(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient), cancel
}

// ExchangeCode trades the callback code for a provider access token.
func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code string) (string, error) {
	ctx, cancel := p.withClient(ctx)
	defer cancel()

	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domainoauth.ErrExchangeFailed, p.desc.Name, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: %s: empty access token", domainoauth.ErrExchangeFailed, p.desc.Name)
	}
	return token.AccessToken, nil
}

// FetchProfile loads and normalises the provider's user profile.
func (p *OAuth2Provider) FetchProfile(ctx context.Context, accessToken string) (domainoauth.Profile, error) {
	ctx, cancel := p.withClient(ctx)
	defer cancel()

	client := p.conf.Client(ctx, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.desc.ProfileURL, nil)
	if err != nil {
		return domainoauth.Profile{}, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return domainoauth.Profile{}, fmt.Errorf("%w: %s: %v", domainoauth.ErrProfileFailed, p.desc.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domainoauth.Profile{}, fmt.Errorf("%w: %s: read body: %v", domainoauth.ErrProfileFailed, p.desc.Name, err)
	}
	if resp.StatusCode >= 300 {
		return domainoauth.Profile{}, fmt.Errorf("%w: %s: status=%d", domainoauth.ErrProfileFailed, p.desc.Name, resp.StatusCode)
	}

	profile, err := p.desc.ParseProfile(body)
	if err != nil {
		return domainoauth.Profile{}, fmt.Errorf("%w: %s: %v", domainoauth.ErrProfileFailed, p.desc.Name, err)
	}
	if profile.ProviderUserID == "" {
		return domainoauth.Profile{}, fmt.Errorf("%w: %s: missing user id", domainoauth.ErrProfileFailed, p.desc.Name)
	}
	return profile, nil
}

func decodeJSON(body []byte, dest any) error {
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode profile: %w", err)
	}
	return nil
}
