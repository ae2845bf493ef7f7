package social

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	adapteroauth "github.com/Choi-Seunghwan/IdP-server/internal/adapter/oauth"
	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	domainoauth "github.com/Choi-Seunghwan/IdP-server/internal/domain/oauth"
	"github.com/Choi-Seunghwan/IdP-server/internal/ids"
	"github.com/Choi-Seunghwan/IdP-server/internal/metrics"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
	"github.com/Choi-Seunghwan/IdP-server/internal/service"
)

var errAlreadyLinked = domain.BadRequest("already_linked", "this social account is already connected")

const (
	statePrefix    = "oauth_state:"
	exchangePrefix = "social_exchange:"
)

// ProviderRegistry resolves a provider by its URL name.
type ProviderRegistry interface {
	Get(name string) (adapteroauth.Provider, error)
}

// Options tunes the social login flow.
type Options struct {
	StateTTL         time.Duration
	ExchangeTTL      time.Duration
	AllowedRedirects []string
}

// LoginStart is returned by StartLogin.
type LoginStart struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// CallbackResult carries the one-time exchange code produced by a successful callback.
type CallbackResult struct {
	Code      string `json:"code"`
	IsNewUser bool   `json:"is_new_user"`
	Redirect  string `json:"-"`
}

// Service orchestrates social login, account linking and the exchange code handoff.
type Service struct {
	service.Observer
	providers ProviderRegistry
	ephemeral repository.EphemeralStore
	users     repository.UserRepository
	accounts  repository.SocialAccountRepository
	auth      *service.AuthService
	node      *ids.Node
	metrics   *metrics.Metrics
	opts      Options
}

// NewService wires dependencies.
func NewService(
	providers ProviderRegistry,
	ephemeral repository.EphemeralStore,
	users repository.UserRepository,
	accounts repository.SocialAccountRepository,
	auth *service.AuthService,
	node *ids.Node,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *Service {
	if opts.StateTTL <= 0 {
		opts.StateTTL = 10 * time.Minute
	}
	if opts.ExchangeTTL <= 0 {
		opts.ExchangeTTL = 60 * time.Second
	}
	return &Service{
		Observer:  service.NewObserver(logger, "github.com/Choi-Seunghwan/IdP-server/internal/service/social"),
		providers: providers,
		ephemeral: ephemeral,
		users:     users,
		accounts:  accounts,
		auth:      auth,
		node:      node,
		metrics:   m,
		opts:      opts,
	}
}

func stateKey(provider domain.SocialProvider, state string) string {
	return statePrefix + string(provider) + ":" + state
}

func exchangeKey(code string) string {
	return exchangePrefix + code
}

func (s *Service) provider(name string) (adapteroauth.Provider, error) {
	p, err := s.providers.Get(name)
	if err != nil {
		if errors.Is(err, domainoauth.ErrProviderNotConfigured) {
			return nil, domain.BadRequest("unsupported_provider", fmt.Sprintf("unsupported provider: %s", name))
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) redirectAllowed(redirect string) bool {
	for _, allowed := range s.opts.AllowedRedirects {
		if redirect == strings.TrimSpace(allowed) {
			return true
		}
	}
	return false
}

// StartLogin creates a CSRF state and returns the provider authorization URL.
func (s *Service) StartLogin(ctx context.Context, providerName, redirect string) (LoginStart, error) {
	ctx, span := s.StartSpan(ctx, "SocialService.StartLogin")
	defer span.End()

	p, err := s.provider(providerName)
	if err != nil {
		return LoginStart{}, err
	}
	redirect = strings.TrimSpace(redirect)
	if redirect != "" && !s.redirectAllowed(redirect) {
		return LoginStart{}, domain.BadRequest("invalid_request", "redirect is not allowed")
	}

	state, err := service.RandomToken(32)
	if err != nil {
		return LoginStart{}, err
	}
	payload := domainoauth.State{Provider: string(p.Name()), Redirect: redirect, CreatedAt: time.Now().UTC()}
	if err := s.ephemeral.Put(ctx, stateKey(p.Name(), state), payload, s.opts.StateTTL); err != nil {
		span.RecordError(err)
		return LoginStart{}, fmt.Errorf("persist oauth state: %w", err)
	}
	return LoginStart{AuthorizationURL: p.AuthorizationURL(state), State: state}, nil
}

// HandleCallback completes a provider login and parks the issued tokens behind a one-time code.
func (s *Service) HandleCallback(ctx context.Context, providerName, code, state string) (CallbackResult, error) {
	ctx, span := s.StartSpan(ctx, "SocialService.HandleCallback")
	defer span.End()

	if strings.TrimSpace(code) == "" || strings.TrimSpace(state) == "" {
		return CallbackResult{}, domain.BadRequest("invalid_request", "code and state are required")
	}
	p, err := s.provider(providerName)
	if err != nil {
		return CallbackResult{}, err
	}

	var stored domainoauth.State
	found, err := s.ephemeral.Consume(ctx, stateKey(p.Name(), state), &stored)
	if err != nil {
		span.RecordError(err)
		return CallbackResult{}, fmt.Errorf("consume oauth state: %w", err)
	}
	if !found || stored.Provider != string(p.Name()) {
		s.metrics.SocialLogin(string(p.Name()), "invalid_state")
		return CallbackResult{}, domain.BadRequest("invalid_state", domainoauth.ErrInvalidState.Error())
	}

	profile, err := s.fetchProfile(ctx, p, code)
	if err != nil {
		s.metrics.SocialLogin(string(p.Name()), "provider_error")
		return CallbackResult{}, err
	}

	user, isNew, err := s.resolveUser(ctx, p.Name(), profile)
	if err != nil {
		span.RecordError(err)
		return CallbackResult{}, err
	}
	pair, err := s.auth.LoginUser(ctx, user)
	if err != nil {
		span.RecordError(err)
		return CallbackResult{}, err
	}

	exchange, err := service.RandomToken(32)
	if err != nil {
		return CallbackResult{}, err
	}
	grant := domainoauth.ExchangeGrant{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, IsNewUser: isNew}
	if err := s.ephemeral.Put(ctx, exchangeKey(exchange), grant, s.opts.ExchangeTTL); err != nil {
		span.RecordError(err)
		return CallbackResult{}, fmt.Errorf("persist exchange code: %w", err)
	}

	s.metrics.SocialLogin(string(p.Name()), "success")
	s.Audit("social.login", "provider", p.Name(), "user_id", user.ID, "new_user", isNew)
	return CallbackResult{Code: exchange, IsNewUser: isNew, Redirect: stored.Redirect}, nil
}

// RedeemExchangeCode returns the tokens parked by HandleCallback. Each code works once.
func (s *Service) RedeemExchangeCode(ctx context.Context, code string) (domainoauth.ExchangeGrant, error) {
	if strings.TrimSpace(code) == "" {
		return domainoauth.ExchangeGrant{}, domain.BadRequest("invalid_request", "code is required")
	}
	var grant domainoauth.ExchangeGrant
	found, err := s.ephemeral.Consume(ctx, exchangeKey(code), &grant)
	if err != nil {
		return domainoauth.ExchangeGrant{}, fmt.Errorf("consume exchange code: %w", err)
	}
	if !found {
		return domainoauth.ExchangeGrant{}, domain.Unauthorized("invalid_grant", "exchange code is invalid or expired")
	}
	return grant, nil
}

// Connect links a provider identity to an existing user.
func (s *Service) Connect(ctx context.Context, userID, providerName, code string) (domain.SocialAccount, error) {
	ctx, span := s.StartSpan(ctx, "SocialService.Connect")
	defer span.End()

	if strings.TrimSpace(code) == "" {
		return domain.SocialAccount{}, domain.BadRequest("invalid_request", "code is required")
	}
	p, err := s.provider(providerName)
	if err != nil {
		return domain.SocialAccount{}, err
	}
	if _, err := s.auth.UserProfile(ctx, userID); err != nil {
		return domain.SocialAccount{}, err
	}

	profile, err := s.fetchProfile(ctx, p, code)
	if err != nil {
		return domain.SocialAccount{}, err
	}
	if _, err := s.accounts.FindByProvider(ctx, p.Name(), profile.ProviderUserID); err == nil {
		return domain.SocialAccount{}, domain.BadRequest("already_linked", "this social account is already connected")
	} else if !errors.Is(err, repository.ErrNotFound) {
		span.RecordError(err)
		return domain.SocialAccount{}, fmt.Errorf("lookup social account: %w", err)
	}

	account, err := s.link(ctx, userID, p.Name(), profile)
	if err != nil {
		span.RecordError(err)
		return domain.SocialAccount{}, err
	}
	s.Audit("social.connect", "provider", p.Name(), "user_id", userID)
	return account, nil
}

// ListAccounts returns the social accounts linked to userID.
func (s *Service) ListAccounts(ctx context.Context, userID string) ([]domain.SocialAccount, error) {
	accounts, err := s.accounts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list social accounts: %w", err)
	}
	return accounts, nil
}

// Disconnect unlinks an account owned by userID. Unknown accounts are ignored. The last account
// of a user without a password cannot be removed.
func (s *Service) Disconnect(ctx context.Context, userID string, accountID int64) error {
	ctx, span := s.StartSpan(ctx, "SocialService.Disconnect")
	defer span.End()

	user, err := s.auth.UserProfile(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var deleted bool
	if user.HasPassword() {
		deleted, err = s.accounts.Delete(ctx, accountID, userID)
	} else {
		deleted, err = s.accounts.DeleteRetainingOne(ctx, accountID, userID)
	}
	if errors.Is(err, repository.ErrLastAccount) {
		return domain.BadRequest("last_login_method", "cannot disconnect the last social account without a password")
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete social account: %w", err)
	}
	if deleted {
		s.Audit("social.disconnect", "user_id", userID, "account_id", accountID)
	}
	return nil
}

func (s *Service) fetchProfile(ctx context.Context, p adapteroauth.Provider, code string) (domainoauth.Profile, error) {
	token, err := p.ExchangeCode(ctx, code)
	if err != nil {
		s.Log().Warn("social code exchange failed", zap.String("provider", string(p.Name())), zap.Error(err))
		return domainoauth.Profile{}, domain.BadRequest("provider_error", fmt.Sprintf("%s: failed to exchange authorization code", p.Name()))
	}
	profile, err := p.FetchProfile(ctx, token)
	if err != nil {
		s.Log().Warn("social profile fetch failed", zap.String("provider", string(p.Name())), zap.Error(err))
		return domainoauth.Profile{}, domain.BadRequest("provider_error", fmt.Sprintf("%s: failed to fetch user profile", p.Name()))
	}
	return profile, nil
}

// linkedUser loads the active user linked to the provider identity. found is false when the
// identity is not linked yet.
func (s *Service) linkedUser(ctx context.Context, provider domain.SocialProvider, providerUserID string) (domain.User, bool, error) {
	account, err := s.accounts.FindByProvider(ctx, provider, providerUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("lookup social account: %w", err)
	}
	user, err := s.users.GetByID(ctx, account.UserID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !user.IsActive) {
		return domain.User{}, false, domain.Unauthorized("access_denied", "linked user is not active")
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("load linked user: %w", err)
	}
	return user, true, nil
}

// resolveUser returns the user linked to the provider identity, provisioning one on first login.
func (s *Service) resolveUser(ctx context.Context, provider domain.SocialProvider, profile domainoauth.Profile) (domain.User, bool, error) {
	user, found, err := s.linkedUser(ctx, provider, profile.ProviderUserID)
	if err != nil || found {
		return user, false, err
	}

	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email == "" {
		email = placeholderEmail()
	}
	username := strings.TrimSpace(profile.Name)
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}

	user, err = s.users.Create(ctx, domain.User{
		ID:       uuid.NewString(),
		Email:    email,
		Username: username,
		IsActive: true,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return domain.User{}, false, domain.Conflict("email_taken", "email already registered; sign in and connect this account")
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("create social user: %w", err)
	}
	if _, err := s.link(ctx, user.ID, provider, profile); err != nil {
		// the user was created for this link only
		if derr := s.users.Delete(ctx, user.ID); derr != nil {
			s.Log().Warn("remove unlinked social user", zap.String("user_id", user.ID), zap.Error(derr))
		}
		// a concurrent first login linked the identity before us
		if errors.Is(err, errAlreadyLinked) {
			if linked, found, lerr := s.linkedUser(ctx, provider, profile.ProviderUserID); lerr == nil && found {
				return linked, false, nil
			}
		}
		return domain.User{}, false, err
	}
	return user, true, nil
}

func (s *Service) link(ctx context.Context, userID string, provider domain.SocialProvider, profile domainoauth.Profile) (domain.SocialAccount, error) {
	account, err := s.accounts.Create(ctx, domain.SocialAccount{
		ID:             s.node.Next(),
		UserID:         userID,
		Provider:       provider,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
		Name:           profile.Name,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return domain.SocialAccount{}, errAlreadyLinked
	}
	if err != nil {
		return domain.SocialAccount{}, fmt.Errorf("create social account: %w", err)
	}
	return account, nil
}

func placeholderEmail() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return "user_" + hex.EncodeToString(b) + "@social.local"
}
