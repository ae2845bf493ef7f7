package sso

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/zap"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	"github.com/Choi-Seunghwan/IdP-server/internal/jwt"
	"github.com/Choi-Seunghwan/IdP-server/internal/metrics"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
	"github.com/Choi-Seunghwan/IdP-server/internal/service"
)

var errInvalidCode = domain.Unauthorized("invalid_grant", "authorization code is invalid, expired or already used")

// AuthorizeRequest carries the /oauth2/authorize query parameters.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenRequest carries the /oauth2/token form parameters.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
}

// UserInfo is the OIDC userinfo response.
type UserInfo struct {
	Sub                 string `json:"sub"`
	Email               string `json:"email,omitempty"`
	EmailVerified       bool   `json:"email_verified"`
	Name                string `json:"name,omitempty"`
	PreferredUsername   string `json:"preferred_username,omitempty"`
	PhoneNumber         string `json:"phone_number,omitempty"`
	PhoneNumberVerified bool   `json:"phone_number_verified"`
}

// Service implements the OAuth2 authorization code flow and the OIDC endpoints.
type Service struct {
	service.Observer
	clients *service.ClientService
	codes   repository.AuthorizationCodeRepository
	users   repository.UserRepository
	issuer  *service.TokenIssuer
	metrics *metrics.Metrics
	codeTTL time.Duration
}

// NewService wires dependencies.
func NewService(
	clients *service.ClientService,
	codes repository.AuthorizationCodeRepository,
	users repository.UserRepository,
	issuer *service.TokenIssuer,
	m *metrics.Metrics,
	codeTTL time.Duration,
	logger *zap.Logger,
) *Service {
	if codeTTL <= 0 {
		codeTTL = 10 * time.Minute
	}
	return &Service{
		Observer: service.NewObserver(logger, "github.com/Choi-Seunghwan/IdP-server/internal/service/sso"),
		clients:  clients,
		codes:    codes,
		users:    users,
		issuer:   issuer,
		metrics:  m,
		codeTTL:  codeTTL,
	}
}

// CreateAuthorizationCode validates an authorize request for userID and stores a one-time code.
func (s *Service) CreateAuthorizationCode(ctx context.Context, userID string, req AuthorizeRequest) (domain.AuthorizationCode, error) {
	ctx, span := s.StartSpan(ctx, "SSOService.CreateAuthorizationCode")
	defer span.End()

	if req.ResponseType != "code" {
		return domain.AuthorizationCode{}, domain.BadRequest("unsupported_response_type", "response_type must be code")
	}
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return domain.AuthorizationCode{}, err
	}
	if !client.SupportsGrant(domain.GrantAuthorizationCode) {
		return domain.AuthorizationCode{}, domain.BadRequest("unauthorized_client", "client may not use the authorization code grant")
	}

	redirectURI := strings.TrimSpace(req.RedirectURI)
	if redirectURI == "" {
		redirectURI = client.RedirectURI
	}
	if redirectURI != client.RedirectURI {
		return domain.AuthorizationCode{}, domain.BadRequest("invalid_request", "redirect_uri does not match the registered value")
	}

	scope := strings.Join(domain.ParseScopes(req.Scope), " ")
	if scope == "" {
		scope = client.Scopes
	}
	if !domain.ScopeSubset(scope, client.Scopes) {
		return domain.AuthorizationCode{}, domain.BadRequest("invalid_scope", "requested scope exceeds the client's scopes")
	}

	method := strings.TrimSpace(req.CodeChallengeMethod)
	challenge := strings.TrimSpace(req.CodeChallenge)
	switch {
	case challenge == "" && method != "":
		return domain.AuthorizationCode{}, domain.BadRequest("invalid_request", "code_challenge_method without code_challenge")
	case challenge == "" && !client.IsConfidential():
		return domain.AuthorizationCode{}, domain.BadRequest("invalid_request", "public clients must use PKCE")
	case challenge != "" && method == "":
		method = domain.CodeChallengePlain
	}
	if challenge != "" && method != domain.CodeChallengeS256 && method != domain.CodeChallengePlain {
		return domain.AuthorizationCode{}, domain.BadRequest("invalid_request", "code_challenge_method must be S256 or plain")
	}

	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !user.IsActive) {
		return domain.AuthorizationCode{}, domain.Unauthorized("login_required", "user is not active")
	}
	if err != nil {
		span.RecordError(err)
		return domain.AuthorizationCode{}, fmt.Errorf("load user: %w", err)
	}

	value, err := service.RandomToken(32)
	if err != nil {
		return domain.AuthorizationCode{}, err
	}
	now := s.issuer.Codec().Now().UTC()
	code := domain.AuthorizationCode{
		Code:                value,
		ClientID:            client.ClientID,
		UserID:              user.ID,
		RedirectURI:         redirectURI,
		Scopes:              scope,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		State:               req.State,
		ExpiresAt:           now.Add(s.codeTTL),
		CreatedAt:           now,
	}
	if challenge == "" {
		code.CodeChallengeMethod = ""
	}
	if err := s.codes.Create(ctx, code); err != nil {
		span.RecordError(err)
		return domain.AuthorizationCode{}, fmt.Errorf("store authorization code: %w", err)
	}
	s.Audit("sso.code.issued", "client_id", client.ClientID, "user_id", user.ID)
	return code, nil
}

// Token dispatches a token endpoint request by grant type.
func (s *Service) Token(ctx context.Context, req TokenRequest) (service.TokenResponse, error) {
	switch req.GrantType {
	case domain.GrantAuthorizationCode:
		return s.ExchangeCode(ctx, req)
	case domain.GrantRefreshToken:
		return s.RefreshTokens(ctx, req.ClientID, req.ClientSecret, req.RefreshToken)
	case "":
		return service.TokenResponse{}, domain.BadRequest("invalid_request", "grant_type is required")
	default:
		return service.TokenResponse{}, domain.BadRequest("unsupported_grant_type", "grant_type is not supported")
	}
}

// ExchangeCode redeems an authorization code for tokens. The code is consumed after validation
// and before any token is persisted, so only one concurrent exchange succeeds.
func (s *Service) ExchangeCode(ctx context.Context, req TokenRequest) (service.TokenResponse, error) {
	ctx, span := s.StartSpan(ctx, "SSOService.ExchangeCode")
	defer span.End()

	if req.GrantType != domain.GrantAuthorizationCode {
		return service.TokenResponse{}, domain.BadRequest("unsupported_grant_type", "grant_type must be authorization_code")
	}
	if strings.TrimSpace(req.Code) == "" {
		return service.TokenResponse{}, domain.BadRequest("invalid_request", "code is required")
	}

	client, err := s.clients.VerifyClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		s.metrics.CodeExchange("client_rejected")
		return service.TokenResponse{}, err
	}

	code, err := s.codes.FindByCode(ctx, req.Code)
	if errors.Is(err, repository.ErrNotFound) {
		s.metrics.CodeExchange("invalid_code")
		return service.TokenResponse{}, errInvalidCode
	}
	if err != nil {
		span.RecordError(err)
		return service.TokenResponse{}, fmt.Errorf("load authorization code: %w", err)
	}
	if code.IsUsed || code.Expired(s.issuer.Codec().Now()) || code.ClientID != client.ClientID {
		s.metrics.CodeExchange("invalid_code")
		return service.TokenResponse{}, errInvalidCode
	}
	if req.RedirectURI != "" && req.RedirectURI != code.RedirectURI {
		s.metrics.CodeExchange("redirect_mismatch")
		return service.TokenResponse{}, domain.BadRequest("invalid_grant", "redirect_uri does not match the authorization request")
	}
	if err := verifyPKCE(code, req.CodeVerifier); err != nil {
		s.metrics.CodeExchange("pkce_failed")
		return service.TokenResponse{}, err
	}

	if err := s.codes.MarkAsUsed(ctx, code.Code); err != nil {
		if errors.Is(err, repository.ErrCodeUsed) {
			s.metrics.CodeExchange("invalid_code")
			return service.TokenResponse{}, errInvalidCode
		}
		span.RecordError(err)
		return service.TokenResponse{}, fmt.Errorf("consume authorization code: %w", err)
	}

	user, err := s.users.GetByID(ctx, code.UserID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !user.IsActive) {
		return service.TokenResponse{}, domain.Unauthorized("invalid_grant", "user is not active")
	}
	if err != nil {
		span.RecordError(err)
		return service.TokenResponse{}, fmt.Errorf("load user: %w", err)
	}

	issued, err := s.issuer.IssueFamily(ctx, user, service.Grant{ClientID: client.ClientID, Scope: code.Scopes})
	if err != nil {
		span.RecordError(err)
		return service.TokenResponse{}, err
	}
	resp, err := s.tokenResponse(issued, client.ClientID)
	if err != nil {
		return service.TokenResponse{}, err
	}
	s.metrics.CodeExchange("success")
	s.Audit("sso.code.exchanged", "client_id", client.ClientID, "user_id", user.ID)
	return resp, nil
}

// RefreshTokens rotates a refresh token issued to clientID, keeping its client and scope.
func (s *Service) RefreshTokens(ctx context.Context, clientID, clientSecret, refreshToken string) (service.TokenResponse, error) {
	ctx, span := s.StartSpan(ctx, "SSOService.RefreshTokens")
	defer span.End()

	if strings.TrimSpace(refreshToken) == "" {
		return service.TokenResponse{}, domain.BadRequest("invalid_request", "refresh_token is required")
	}
	client, err := s.clients.VerifyClient(ctx, clientID, clientSecret)
	if err != nil {
		return service.TokenResponse{}, err
	}
	if !client.SupportsGrant(domain.GrantRefreshToken) {
		return service.TokenResponse{}, domain.BadRequest("unauthorized_client", "client may not use the refresh token grant")
	}

	issued, err := s.issuer.Rotate(ctx, refreshToken, client.ClientID)
	if err != nil {
		span.RecordError(err)
		s.Audit("sso.refresh.rejected", "client_id", client.ClientID, "error", err.Error())
		return service.TokenResponse{}, err
	}
	resp, err := s.tokenResponse(issued, client.ClientID)
	if err != nil {
		return service.TokenResponse{}, err
	}
	s.Audit("sso.refresh.rotated", "client_id", client.ClientID, "user_id", issued.User.ID)
	return resp, nil
}

func (s *Service) tokenResponse(issued service.IssuedTokens, clientID string) (service.TokenResponse, error) {
	scope := issued.Record.Scope
	if scope == "" {
		scope = domain.DefaultScopes
	}
	resp := service.TokenResponse{
		AccessToken:  issued.AccessToken,
		TokenType:    service.TokenTypeBearer,
		ExpiresIn:    int64(s.issuer.Codec().AccessTTL().Seconds()),
		RefreshToken: issued.RefreshToken,
		Scope:        scope,
	}
	if domain.HasScope(scope, domain.ScopeOpenID) {
		idToken, err := s.issuer.Codec().CreateIDToken(idTokenClaims(issued.User, clientID, scope))
		if err != nil {
			return service.TokenResponse{}, fmt.Errorf("create id token: %w", err)
		}
		resp.IDToken = idToken
		s.metrics.TokenIssued("id")
	}
	return resp, nil
}

func idTokenClaims(user domain.User, clientID, scope string) jwt.IDTokenClaims {
	claims := jwt.IDTokenClaims{
		Claims: gojwt.Claims{
			Subject:  user.ID,
			Audience: gojwt.Audience{clientID},
		},
	}
	if domain.HasScope(scope, domain.ScopeEmail) {
		verified := user.IsVerified
		claims.Email = user.Email
		claims.EmailVerified = &verified
	}
	if domain.HasScope(scope, domain.ScopeProfile) {
		claims.Name = user.Username
		claims.PreferredUsername = user.Username
	}
	return claims
}

// UserInfo returns OIDC claims for the subject of an access token.
func (s *Service) UserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	ctx, span := s.StartSpan(ctx, "SSOService.UserInfo")
	defer span.End()

	claims, err := s.issuer.Codec().Verify(accessToken, jwt.TypeAccess)
	if err != nil {
		return UserInfo{}, domain.Unauthorized("invalid_token", "access token is invalid or expired")
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return UserInfo{}, domain.NotFound("user_not_found", "user not found")
	}
	if err != nil {
		span.RecordError(err)
		return UserInfo{}, fmt.Errorf("load user: %w", err)
	}
	return UserInfo{
		Sub:                 user.ID,
		Email:               user.Email,
		EmailVerified:       user.IsVerified,
		Name:                user.Username,
		PreferredUsername:   user.Username,
		PhoneNumber:         user.PhoneNumber,
		PhoneNumberVerified: user.PhoneNumberVerified,
	}, nil
}

// JWKS exposes the public signing keys.
func (s *Service) JWKS() gojose.JSONWebKeySet {
	return s.issuer.Codec().JWKS()
}
