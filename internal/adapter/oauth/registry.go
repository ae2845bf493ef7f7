package oauth

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Choi-Seunghwan/IdP-server/internal/config"
	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	domainoauth "github.com/Choi-Seunghwan/IdP-server/internal/domain/oauth"
)

// Registry maps provider names to their implementations.
type Registry struct {
	providers map[domain.SocialProvider]Provider
}

// NewRegistry indexes providers by name. Later duplicates win.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[domain.SocialProvider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// NewRegistryFromConfig builds providers for every social login with credentials configured.
func NewRegistryFromConfig(cfg config.Config, logger *zap.Logger) *Registry {
	client := &http.Client{Timeout: cfg.SocialHTTPTimeout}
	entries := []struct {
		desc  ProviderDescriptor
		creds config.ProviderConfig
	}{
		{GoogleDescriptor(), cfg.Google},
		{KakaoDescriptor(), cfg.Kakao},
		{NaverDescriptor(), cfg.Naver},
	}

	var providers []Provider
	for _, e := range entries {
		if !e.creds.Enabled() {
			logger.Debug("social provider disabled", zap.String("provider", string(e.desc.Name)))
			continue
		}
		providers = append(providers, NewOAuth2Provider(e.desc, e.creds, client, cfg.SocialHTTPTimeout))
		logger.Info("social provider enabled", zap.String("provider", string(e.desc.Name)))
	}
	return NewRegistry(providers...)
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	key, ok := domain.ParseSocialProvider(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domainoauth.ErrProviderNotConfigured, name)
	}
	p, ok := r.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domainoauth.ErrProviderNotConfigured, key)
	}
	return p, nil
}

// Names lists the configured providers.
func (r *Registry) Names() []domain.SocialProvider {
	out := make([]domain.SocialProvider, 0, len(r.providers))
	for _, name := range []domain.SocialProvider{domain.ProviderGoogle, domain.ProviderKakao, domain.ProviderNaver} {
		if _, ok := r.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
