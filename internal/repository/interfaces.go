package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
)

var (
	// ErrNotFound is returned when no (active) record matches.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("repository: duplicate")
	// ErrAlreadyRevoked is returned by Rotate when another caller revoked the record first.
	ErrAlreadyRevoked = errors.New("repository: refresh token already revoked")
	// ErrCodeUsed is returned by MarkAsUsed when the code was consumed or no longer exists.
	ErrCodeUsed = errors.New("repository: authorization code already used")
	// ErrLastAccount is returned by DeleteRetainingOne when the account is the user's only link.
	ErrLastAccount = errors.New("repository: last social account")
)

// UserRepository exposes persistence for end users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, id string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) error
}

// RefreshTokenRepository persists hashed refresh token records grouped into families.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	// FindByTokenHash returns only active records.
	FindByTokenHash(ctx context.Context, hash string) (domain.RefreshToken, error)
	FindByFamilyID(ctx context.Context, familyID string) ([]domain.RefreshToken, error)
	// RevokeByID is idempotent; it reports whether this call performed the revocation.
	RevokeByID(ctx context.Context, id string) (bool, error)
	RevokeByUserID(ctx context.Context, userID string) (int64, error)
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
	// Rotate revokes oldID and stores next atomically. Only one caller can rotate a given record.
	Rotate(ctx context.Context, oldID string, next domain.RefreshToken) error
	// DeleteExpired removes records expired before now or revoked before revokedBefore.
	DeleteExpired(ctx context.Context, now, revokedBefore time.Time) (int64, error)
}

// AuthorizationCodeRepository manages one-time authorization codes.
type AuthorizationCodeRepository interface {
	Create(ctx context.Context, code domain.AuthorizationCode) error
	FindByCode(ctx context.Context, code string) (domain.AuthorizationCode, error)
	// MarkAsUsed consumes the code. Exactly one concurrent caller succeeds.
	MarkAsUsed(ctx context.Context, code string) error
	Delete(ctx context.Context, code string) error
}

// ExpiredCodePurger is implemented by code stores without native TTL.
type ExpiredCodePurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ClientRepository stores registered OAuth2 clients.
type ClientRepository interface {
	Create(ctx context.Context, client domain.OAuth2Client) (domain.OAuth2Client, error)
	GetByClientID(ctx context.Context, clientID string) (domain.OAuth2Client, error)
}

// SocialAccountRepository links users to social provider identities.
type SocialAccountRepository interface {
	Create(ctx context.Context, account domain.SocialAccount) (domain.SocialAccount, error)
	FindByProvider(ctx context.Context, provider domain.SocialProvider, providerUserID string) (domain.SocialAccount, error)
	ListByUserID(ctx context.Context, userID string) ([]domain.SocialAccount, error)
	// Delete removes the account if it belongs to userID and reports whether a row was removed.
	Delete(ctx context.Context, id int64, userID string) (bool, error)
	// DeleteRetainingOne behaves like Delete but fails with ErrLastAccount instead of removing
	// the user's only account. The count and the delete happen under one lock.
	DeleteRetainingOne(ctx context.Context, id int64, userID string) (bool, error)
}

// EphemeralStore is a TTL key-value store whose values can be read once.
type EphemeralStore interface {
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	// Consume atomically reads and deletes key into dest. It reports false when the key is absent.
	Consume(ctx context.Context, key string, dest any) (bool, error)
}

// CodeTTL returns the store lifetime for a code expiring at expiresAt, never below one second.
func CodeTTL(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
