package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	"github.com/Choi-Seunghwan/IdP-server/internal/jwt"
	pw "github.com/Choi-Seunghwan/IdP-server/internal/password"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
)

const minPasswordLength = 8

var errInvalidCredentials = domain.Unauthorized("invalid_grant", "invalid email or password")

// AuthService handles first-party login, refresh rotation and logout.
type AuthService struct {
	Observer
	users   repository.UserRepository
	refresh repository.RefreshTokenRepository
	issuer  *TokenIssuer
}

// NewAuthService wires dependencies.
func NewAuthService(users repository.UserRepository, refresh repository.RefreshTokenRepository, issuer *TokenIssuer, logger *zap.Logger) *AuthService {
	return &AuthService{
		Observer: NewObserver(logger, "github.com/Choi-Seunghwan/IdP-server/internal/service"),
		users:    users,
		refresh:  refresh,
		issuer:   issuer,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login authenticates with email and password and starts a new token family.
func (s *AuthService) Login(ctx context.Context, email, password string) (TokenPair, error) {
	ctx, span := s.StartSpan(ctx, "AuthService.Login")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		s.Audit("auth.login.failed", "reason", "unknown_email")
		return TokenPair{}, errInvalidCredentials
	}
	if err != nil {
		span.RecordError(err)
		return TokenPair{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive || !user.HasPassword() {
		s.Audit("auth.login.failed", "user_id", user.ID, "reason", "inactive_or_passwordless")
		return TokenPair{}, errInvalidCredentials
	}

	ok, err := pw.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		s.Audit("auth.login.failed", "user_id", user.ID, "reason", "bad_password")
		return TokenPair{}, errInvalidCredentials
	}
	s.upgradeHash(ctx, user, password)

	pair, err := s.LoginUser(ctx, user)
	if err != nil {
		span.RecordError(err)
		return TokenPair{}, err
	}
	s.Audit("auth.login.success", "user_id", user.ID)
	return pair, nil
}

// upgradeHash re-hashes legacy bcrypt passwords with argon2id after a successful login.
func (s *AuthService) upgradeHash(ctx context.Context, user domain.User, password string) {
	if !pw.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := pw.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		s.Log().Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// LoginUser issues a new token family for an already authenticated user.
func (s *AuthService) LoginUser(ctx context.Context, user domain.User) (TokenPair, error) {
	issued, err := s.issuer.IssueFamily(ctx, user, Grant{})
	if err != nil {
		return TokenPair{}, err
	}
	return s.pair(issued), nil
}

// Refresh rotates a refresh token. Replays of rotated tokens are rejected; the family is left intact.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	ctx, span := s.StartSpan(ctx, "AuthService.Refresh")
	defer span.End()

	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, domain.BadRequest("invalid_request", "refresh_token is required")
	}
	issued, err := s.issuer.Rotate(ctx, refreshToken, "")
	if err != nil {
		span.RecordError(err)
		s.Audit("auth.refresh.rejected", "error", err.Error())
		return TokenPair{}, err
	}
	s.Audit("auth.refresh.rotated", "user_id", issued.User.ID, "family_id", issued.Record.FamilyID)
	return s.pair(issued), nil
}

// Logout revokes the record matching refreshToken. Unknown or invalid tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	ctx, span := s.StartSpan(ctx, "AuthService.Logout")
	defer span.End()

	if _, err := s.issuer.Codec().Verify(refreshToken, jwt.TypeRefresh); err != nil {
		return nil
	}
	record, err := s.refresh.FindByTokenHash(ctx, HashToken(refreshToken))
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	if _, err := s.refresh.RevokeByID(ctx, record.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	s.Audit("auth.logout", "user_id", record.UserID, "family_id", record.FamilyID)
	return nil
}

// LogoutAll revokes every active refresh token of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	ctx, span := s.StartSpan(ctx, "AuthService.LogoutAll")
	defer span.End()

	n, err := s.refresh.RevokeByUserID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	s.Audit("auth.logout_all", "user_id", userID, "revoked", n)
	return n, nil
}

// Register creates a password user.
func (s *AuthService) Register(ctx context.Context, email, password, username string) (domain.User, error) {
	ctx, span := s.StartSpan(ctx, "AuthService.Register")
	defer span.End()

	normalized := normalizeEmail(email)
	if _, err := mail.ParseAddress(normalized); err != nil || normalized == "" {
		return domain.User{}, domain.BadRequest("invalid_request", "a valid email is required")
	}
	if len(password) < minPasswordLength {
		return domain.User{}, domain.BadRequest("invalid_request", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	if _, err := s.users.GetByEmail(ctx, normalized); err == nil {
		return domain.User{}, domain.Conflict("email_taken", "email already registered")
	} else if !errors.Is(err, repository.ErrNotFound) {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := pw.Hash(password)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = strings.SplitN(normalized, "@", 2)[0]
	}

	user, err := s.users.Create(ctx, domain.User{
		ID:           uuid.NewString(),
		Email:        normalized,
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return domain.User{}, domain.Conflict("email_taken", "email already registered")
	}
	if err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	s.Audit("auth.register", "user_id", user.ID)
	return user, nil
}

// Authenticate verifies an access token and returns its claims.
func (s *AuthService) Authenticate(_ context.Context, accessToken string) (*jwt.Claims, error) {
	claims, err := s.issuer.Codec().Verify(accessToken, jwt.TypeAccess)
	if err != nil {
		return nil, domain.Unauthorized("invalid_token", "access token is invalid or expired")
	}
	return claims, nil
}

// UserProfile loads the user behind an authenticated request.
func (s *AuthService) UserProfile(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.User{}, domain.NotFound("user_not_found", "user not found")
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *AuthService) pair(issued IssuedTokens) TokenPair {
	return TokenPair{
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RefreshToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.issuer.Codec().AccessTTL().Seconds()),
	}
}
