package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
)

// Schema is the DDL the Postgres stores expect.
//
//go:embed schema.sql
var Schema string

// Compile-time interface assertions.
var (
	_ UserRepository              = (*PostgresUserRepo)(nil)
	_ RefreshTokenRepository      = (*PostgresRefreshTokenRepo)(nil)
	_ AuthorizationCodeRepository = (*PostgresCodeRepo)(nil)
	_ ExpiredCodePurger           = (*PostgresCodeRepo)(nil)
	_ ClientRepository            = (*PostgresClientRepo)(nil)
	_ SocialAccountRepository     = (*PostgresSocialAccountRepo)(nil)
)

const uniqueViolation = "23505"

func translateErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const userColumns = `id, email, username, COALESCE(password_hash, ''), phone_number, phone_number_verified, is_verified, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.PhoneNumber,
		&u.PhoneNumberVerified,
		&u.IsVerified,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return domain.User{}, translateErr("get user by email", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return domain.User{}, translateErr("get user by id", err)
	}
	return u, nil
}

const insertUserSQL = `INSERT INTO users (id, email, username, password_hash, phone_number, phone_number_verified, is_verified, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + userColumns

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	created, err := scanUser(r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.Email,
		user.Username,
		nullIfEmpty(user.PasswordHash),
		user.PhoneNumber,
		user.PhoneNumberVerified,
		user.IsVerified,
		user.IsActive,
	))
	if err != nil {
		return domain.User{}, translateErr("create user", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return translateErr("update password hash", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return translateErr("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresRefreshTokenRepo implements RefreshTokenRepository.
type PostgresRefreshTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRefreshTokenRepo(pool *pgxpool.Pool) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{db: pool}
}

const refreshColumns = `id, token_hash, user_id, family_id, rotated_from, COALESCE(client_id, ''), COALESCE(scope, ''), expires_at, revoked_at, created_at`

const insertRefreshSQL = `INSERT INTO refresh_tokens (id, token_hash, user_id, family_id, rotated_from, client_id, scope, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Only flips rows that are still unrevoked, so concurrent callers cannot both win.
const revokeRefreshSQL = `UPDATE refresh_tokens SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`

func scanRefresh(row pgx.Row) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := row.Scan(
		&t.ID,
		&t.TokenHash,
		&t.UserID,
		&t.FamilyID,
		&t.RotatedFrom,
		&t.ClientID,
		&t.Scope,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.CreatedAt,
	)
	return t, err
}

func insertRefreshArgs(t domain.RefreshToken) []any {
	return []any{t.ID, t.TokenHash, t.UserID, t.FamilyID, t.RotatedFrom, nullIfEmpty(t.ClientID), nullIfEmpty(t.Scope), t.ExpiresAt}
}

func (r *PostgresRefreshTokenRepo) Create(ctx context.Context, token domain.RefreshToken) error {
	if _, err := r.db.Exec(ctx, insertRefreshSQL, insertRefreshArgs(token)...); err != nil {
		return translateErr("create refresh token", err)
	}
	return nil
}

func (r *PostgresRefreshTokenRepo) FindByTokenHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	const query = `SELECT ` + refreshColumns + ` FROM refresh_tokens
WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()`
	t, err := scanRefresh(r.db.QueryRow(ctx, query, hash))
	if err != nil {
		return domain.RefreshToken{}, translateErr("find refresh token", err)
	}
	return t, nil
}

func (r *PostgresRefreshTokenRepo) FindByFamilyID(ctx context.Context, familyID string) ([]domain.RefreshToken, error) {
	const query = `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE family_id = $1 ORDER BY created_at, id`
	rows, err := r.db.Query(ctx, query, familyID)
	if err != nil {
		return nil, translateErr("list refresh family", err)
	}
	defer rows.Close()

	var out []domain.RefreshToken
	for rows.Next() {
		t, err := scanRefresh(rows)
		if err != nil {
			return nil, translateErr("scan refresh token", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr("list refresh family", err)
	}
	return out, nil
}

func (r *PostgresRefreshTokenRepo) RevokeByID(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, revokeRefreshSQL, id)
	if err != nil {
		return false, translateErr("revoke refresh token", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRefreshTokenRepo) RevokeByUserID(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return 0, translateErr("revoke user refresh tokens", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRefreshTokenRepo) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked_at = now() WHERE family_id = $1 AND revoked_at IS NULL`, familyID)
	if err != nil {
		return 0, translateErr("revoke refresh family", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRefreshTokenRepo) Rotate(ctx context.Context, oldID string, next domain.RefreshToken) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, revokeRefreshSQL, oldID)
		if err != nil {
			return translateErr("rotate revoke", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrAlreadyRevoked
		}
		if _, err := tx.Exec(ctx, insertRefreshSQL, insertRefreshArgs(next)...); err != nil {
			return translateErr("rotate insert", err)
		}
		return nil
	})
}

func (r *PostgresRefreshTokenRepo) DeleteExpired(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1 OR (revoked_at IS NOT NULL AND revoked_at < $2)`, now, revokedBefore)
	if err != nil {
		return 0, translateErr("delete expired refresh tokens", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresCodeRepo implements AuthorizationCodeRepository.
type PostgresCodeRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCodeRepo(pool *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: pool}
}

func (r *PostgresCodeRepo) Create(ctx context.Context, code domain.AuthorizationCode) error {
	const query = `INSERT INTO authorization_codes
(code, client_id, user_id, redirect_uri, scopes, code_challenge, code_challenge_method, state, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, query,
		code.Code,
		code.ClientID,
		code.UserID,
		code.RedirectURI,
		code.Scopes,
		nullIfEmpty(code.CodeChallenge),
		nullIfEmpty(code.CodeChallengeMethod),
		nullIfEmpty(code.State),
		code.ExpiresAt,
	)
	if err != nil {
		return translateErr("create authorization code", err)
	}
	return nil
}

func (r *PostgresCodeRepo) FindByCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	const query = `SELECT code, client_id, user_id, redirect_uri, scopes, COALESCE(code_challenge, ''),
COALESCE(code_challenge_method, ''), COALESCE(state, ''), expires_at, is_used, created_at
FROM authorization_codes WHERE code = $1`
	var c domain.AuthorizationCode
	err := r.db.QueryRow(ctx, query, code).Scan(
		&c.Code,
		&c.ClientID,
		&c.UserID,
		&c.RedirectURI,
		&c.Scopes,
		&c.CodeChallenge,
		&c.CodeChallengeMethod,
		&c.State,
		&c.ExpiresAt,
		&c.IsUsed,
		&c.CreatedAt,
	)
	if err != nil {
		return domain.AuthorizationCode{}, translateErr("find authorization code", err)
	}
	return c, nil
}

func (r *PostgresCodeRepo) MarkAsUsed(ctx context.Context, code string) error {
	tag, err := r.db.Exec(ctx, `UPDATE authorization_codes SET is_used = true WHERE code = $1 AND is_used = false`, code)
	if err != nil {
		return translateErr("mark authorization code used", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrCodeUsed
	}
	return nil
}

func (r *PostgresCodeRepo) Delete(ctx context.Context, code string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM authorization_codes WHERE code = $1`, code); err != nil {
		return translateErr("delete authorization code", err)
	}
	return nil
}

func (r *PostgresCodeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM authorization_codes WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, translateErr("delete expired authorization codes", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresClientRepo implements ClientRepository.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: pool}
}

const clientColumns = `id, client_id, COALESCE(client_secret, ''), name, COALESCE(description, ''), client_type,
redirect_uri, grant_types, scopes, is_active, created_at, updated_at`

func scanClient(row pgx.Row) (domain.OAuth2Client, error) {
	var (
		c          domain.OAuth2Client
		clientType string
	)
	err := row.Scan(
		&c.ID,
		&c.ClientID,
		&c.ClientSecret,
		&c.Name,
		&c.Description,
		&clientType,
		&c.RedirectURI,
		&c.GrantTypes,
		&c.Scopes,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	c.ClientType = domain.ClientType(clientType)
	return c, err
}

func (r *PostgresClientRepo) Create(ctx context.Context, client domain.OAuth2Client) (domain.OAuth2Client, error) {
	const query = `INSERT INTO oauth2_clients
(id, client_id, client_secret, name, description, client_type, redirect_uri, grant_types, scopes, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + clientColumns
	created, err := scanClient(r.db.QueryRow(ctx, query,
		client.ID,
		client.ClientID,
		nullIfEmpty(client.ClientSecret),
		client.Name,
		nullIfEmpty(client.Description),
		string(client.ClientType),
		client.RedirectURI,
		client.GrantTypes,
		client.Scopes,
		client.IsActive,
	))
	if err != nil {
		return domain.OAuth2Client{}, translateErr("create client", err)
	}
	return created, nil
}

func (r *PostgresClientRepo) GetByClientID(ctx context.Context, clientID string) (domain.OAuth2Client, error) {
	c, err := scanClient(r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM oauth2_clients WHERE client_id = $1`, clientID))
	if err != nil {
		return domain.OAuth2Client{}, translateErr("get client", err)
	}
	return c, nil
}

// PostgresSocialAccountRepo implements SocialAccountRepository.
type PostgresSocialAccountRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSocialAccountRepo(pool *pgxpool.Pool) *PostgresSocialAccountRepo {
	return &PostgresSocialAccountRepo{db: pool}
}

const socialColumns = `id, user_id, provider, provider_user_id, COALESCE(email, ''), COALESCE(name, ''), created_at`

func scanSocial(row pgx.Row) (domain.SocialAccount, error) {
	var (
		a        domain.SocialAccount
		provider string
	)
	err := row.Scan(&a.ID, &a.UserID, &provider, &a.ProviderUserID, &a.Email, &a.Name, &a.CreatedAt)
	a.Provider = domain.SocialProvider(provider)
	return a, err
}

func (r *PostgresSocialAccountRepo) Create(ctx context.Context, account domain.SocialAccount) (domain.SocialAccount, error) {
	const query = `INSERT INTO social_accounts (id, user_id, provider, provider_user_id, email, name)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + socialColumns
	created, err := scanSocial(r.db.QueryRow(ctx, query,
		account.ID,
		account.UserID,
		string(account.Provider),
		account.ProviderUserID,
		nullIfEmpty(account.Email),
		nullIfEmpty(account.Name),
	))
	if err != nil {
		return domain.SocialAccount{}, translateErr("create social account", err)
	}
	return created, nil
}

func (r *PostgresSocialAccountRepo) FindByProvider(ctx context.Context, provider domain.SocialProvider, providerUserID string) (domain.SocialAccount, error) {
	const query = `SELECT ` + socialColumns + ` FROM social_accounts WHERE provider = $1 AND provider_user_id = $2`
	a, err := scanSocial(r.db.QueryRow(ctx, query, string(provider), providerUserID))
	if err != nil {
		return domain.SocialAccount{}, translateErr("find social account", err)
	}
	return a, nil
}

func (r *PostgresSocialAccountRepo) ListByUserID(ctx context.Context, userID string) ([]domain.SocialAccount, error) {
	rows, err := r.db.Query(ctx, `SELECT `+socialColumns+` FROM social_accounts WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, translateErr("list social accounts", err)
	}
	defer rows.Close()

	out := []domain.SocialAccount{}
	for rows.Next() {
		a, err := scanSocial(rows)
		if err != nil {
			return nil, translateErr("scan social account", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr("list social accounts", err)
	}
	return out, nil
}

func (r *PostgresSocialAccountRepo) Delete(ctx context.Context, id int64, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM social_accounts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, translateErr("delete social account", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteRetainingOne locks every account of the user so concurrent unlinks serialize on the count.
func (r *PostgresSocialAccountRepo) DeleteRetainingOne(ctx context.Context, id int64, userID string) (bool, error) {
	deleted := false
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id FROM social_accounts WHERE user_id = $1 FOR UPDATE`, userID)
		if err != nil {
			return translateErr("lock social accounts", err)
		}
		linked, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return translateErr("lock social accounts", err)
		}
		if !slices.Contains(linked, id) {
			return nil
		}
		if len(linked) <= 1 {
			return ErrLastAccount
		}
		if _, err := tx.Exec(ctx, `DELETE FROM social_accounts WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
			return translateErr("delete social account", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}
