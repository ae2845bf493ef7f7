package service

import (
	"context"
	"errors"
	"fmt"

	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	"github.com/Choi-Seunghwan/IdP-server/internal/ids"
	"github.com/Choi-Seunghwan/IdP-server/internal/jwt"
	"github.com/Choi-Seunghwan/IdP-server/internal/metrics"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
)

var errInvalidRefresh = domain.Unauthorized("invalid_grant", "invalid refresh token")

// IssuedTokens is the result of minting an access and refresh token pair.
type IssuedTokens struct {
	AccessToken  string
	RefreshToken string
	Record       domain.RefreshToken
	User         domain.User
}

// Grant scopes a token family to an OAuth2 client. The zero value is a first-party login.
type Grant struct {
	ClientID string
	Scope    string
}

// TokenIssuer mints token pairs and rotates refresh tokens within their family.
type TokenIssuer struct {
	codec   *jwt.Codec
	refresh repository.RefreshTokenRepository
	users   repository.UserRepository
	metrics *metrics.Metrics
}

// NewTokenIssuer wires the codec and stores used for issuance.
func NewTokenIssuer(codec *jwt.Codec, refresh repository.RefreshTokenRepository, users repository.UserRepository, m *metrics.Metrics) *TokenIssuer {
	return &TokenIssuer{codec: codec, refresh: refresh, users: users, metrics: m}
}

// Codec exposes the token codec.
func (i *TokenIssuer) Codec() *jwt.Codec {
	return i.codec
}

// IssueFamily starts a new refresh token family for user.
func (i *TokenIssuer) IssueFamily(ctx context.Context, user domain.User, grant Grant) (IssuedTokens, error) {
	access, refresh, record, err := i.mint(user, grant, ids.New(), nil)
	if err != nil {
		return IssuedTokens{}, err
	}
	if err := i.refresh.Create(ctx, record); err != nil {
		return IssuedTokens{}, fmt.Errorf("persist refresh token: %w", err)
	}
	i.metrics.TokenIssued(jwt.TypeAccess)
	i.metrics.TokenIssued(jwt.TypeRefresh)
	return IssuedTokens{AccessToken: access, RefreshToken: refresh, Record: record, User: user}, nil
}

// Rotate exchanges an active refresh token for a new pair in the same family. The token must
// belong to clientID; an empty clientID accepts first-party tokens only. Concurrent rotations of
// one token have a single winner; every loser gets Unauthorized.
func (i *TokenIssuer) Rotate(ctx context.Context, raw, clientID string) (IssuedTokens, error) {
	claims, err := i.codec.Verify(raw, jwt.TypeRefresh)
	if err != nil {
		i.metrics.RefreshResult("invalid")
		return IssuedTokens{}, errInvalidRefresh
	}
	if claims.ClientID != clientID {
		i.metrics.RefreshResult("client_mismatch")
		return IssuedTokens{}, domain.Unauthorized("invalid_grant", "refresh token was not issued to this client")
	}

	record, err := i.refresh.FindByTokenHash(ctx, HashToken(raw))
	if errors.Is(err, repository.ErrNotFound) {
		i.metrics.RefreshResult("reused")
		return IssuedTokens{}, domain.Unauthorized("invalid_grant", "refresh token revoked or reused")
	}
	if err != nil {
		return IssuedTokens{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if !record.IsActive(i.codec.Now()) {
		i.metrics.RefreshResult("expired")
		return IssuedTokens{}, domain.Unauthorized("invalid_grant", "refresh token expired")
	}
	if record.ClientID != clientID {
		i.metrics.RefreshResult("client_mismatch")
		return IssuedTokens{}, domain.Unauthorized("invalid_grant", "refresh token was not issued to this client")
	}
	if record.UserID != claims.Subject {
		i.metrics.RefreshResult("invalid")
		return IssuedTokens{}, errInvalidRefresh
	}

	user, err := i.users.GetByID(ctx, record.UserID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !user.IsActive) {
		return IssuedTokens{}, domain.Unauthorized("invalid_grant", "user is not active")
	}
	if err != nil {
		return IssuedTokens{}, fmt.Errorf("load user: %w", err)
	}

	grant := Grant{ClientID: record.ClientID, Scope: record.Scope}
	parent := record.ID
	access, refresh, next, err := i.mint(user, grant, record.FamilyID, &parent)
	if err != nil {
		return IssuedTokens{}, err
	}
	if err := i.refresh.Rotate(ctx, record.ID, next); err != nil {
		if errors.Is(err, repository.ErrAlreadyRevoked) {
			i.metrics.RefreshResult("race_lost")
			return IssuedTokens{}, domain.Unauthorized("invalid_grant", "refresh token revoked or reused")
		}
		return IssuedTokens{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	i.metrics.RefreshResult("rotated")
	i.metrics.TokenIssued(jwt.TypeAccess)
	i.metrics.TokenIssued(jwt.TypeRefresh)
	return IssuedTokens{AccessToken: access, RefreshToken: refresh, Record: next, User: user}, nil
}

func (i *TokenIssuer) mint(user domain.User, grant Grant, familyID string, rotatedFrom *string) (string, string, domain.RefreshToken, error) {
	base := jwt.Claims{
		Claims:   gojwt.Claims{Subject: user.ID},
		ClientID: grant.ClientID,
		Scope:    grant.Scope,
	}

	accessClaims := base
	accessClaims.Email = user.Email
	access, err := i.codec.CreateAccessToken(accessClaims, 0)
	if err != nil {
		return "", "", domain.RefreshToken{}, fmt.Errorf("create access token: %w", err)
	}
	refresh, err := i.codec.CreateRefreshToken(base)
	if err != nil {
		return "", "", domain.RefreshToken{}, fmt.Errorf("create refresh token: %w", err)
	}

	now := i.codec.Now().UTC()
	record := domain.RefreshToken{
		ID:          ids.New(),
		TokenHash:   HashToken(refresh),
		UserID:      user.ID,
		FamilyID:    familyID,
		RotatedFrom: rotatedFrom,
		ClientID:    grant.ClientID,
		Scope:       grant.Scope,
		ExpiresAt:   now.Add(i.codec.RefreshTTL()),
		CreatedAt:   now,
	}
	return access, refresh, record, nil
}
