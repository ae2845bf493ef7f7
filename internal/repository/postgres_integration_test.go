//go:build integration

package repository_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	"github.com/Choi-Seunghwan/IdP-server/internal/ids"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
)

func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, repository.Schema)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE social_accounts, authorization_codes, refresh_tokens, oauth2_clients, users`)
	require.NoError(t, err)
	return pool
}

func createUser(t *testing.T, users *repository.PostgresUserRepo, email string) domain.User {
	t.Helper()
	u, err := users.Create(context.Background(), domain.User{ID: uuid.NewString(), Email: email, IsActive: true})
	require.NoError(t, err)
	return u
}

func TestPostgresUsers(t *testing.T) {
	pool := newPool(t)
	users := repository.NewPostgresUserRepo(pool)
	ctx := context.Background()

	u := createUser(t, users, "Pg@X.com")
	require.False(t, u.HasPassword())

	got, err := users.GetByEmail(ctx, "pg@x.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = users.Create(ctx, domain.User{ID: uuid.NewString(), Email: "PG@x.com"})
	require.ErrorIs(t, err, repository.ErrDuplicate)

	require.NoError(t, users.UpdatePasswordHash(ctx, u.ID, "hash"))
	got, err = users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.HasPassword())

	_, err = users.GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPostgresRefreshRotation(t *testing.T) {
	pool := newPool(t)
	users := repository.NewPostgresUserRepo(pool)
	refresh := repository.NewPostgresRefreshTokenRepo(pool)
	ctx := context.Background()
	u := createUser(t, users, "rot@x.com")

	now := time.Now().UTC()
	family := ids.New()
	root := domain.RefreshToken{ID: ids.New(), TokenHash: "h0", UserID: u.ID, FamilyID: family, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, refresh.Create(ctx, root))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			parent := root.ID
			next := domain.RefreshToken{ID: ids.New(), TokenHash: "h1-" + string(rune('a'+i)), UserID: u.ID, FamilyID: family, RotatedFrom: &parent, ExpiresAt: now.Add(time.Hour)}
			if err := refresh.Rotate(ctx, root.ID, next); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())

	_, err := refresh.FindByTokenHash(ctx, "h0")
	require.ErrorIs(t, err, repository.ErrNotFound)

	chain, err := refresh.FindByFamilyID(ctx, family)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	revoked, err := refresh.RevokeByID(ctx, root.ID)
	require.NoError(t, err)
	require.False(t, revoked)

	n, err := refresh.RevokeByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	deleted, err := refresh.DeleteExpired(ctx, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)
}

func TestPostgresCodes(t *testing.T) {
	pool := newPool(t)
	users := repository.NewPostgresUserRepo(pool)
	codes := repository.NewPostgresCodeRepo(pool)
	ctx := context.Background()
	u := createUser(t, users, "code@x.com")

	code := domain.AuthorizationCode{
		Code:          "c1",
		ClientID:      "client_a",
		UserID:        u.ID,
		RedirectURI:   "https://app.test/cb",
		Scopes:        "openid",
		CodeChallenge: "abc",
		ExpiresAt:     time.Now().Add(time.Minute),
	}
	require.NoError(t, codes.Create(ctx, code))
	require.ErrorIs(t, codes.Create(ctx, code), repository.ErrDuplicate)

	got, err := codes.FindByCode(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "abc", got.CodeChallenge)
	require.Empty(t, got.State)

	require.NoError(t, codes.MarkAsUsed(ctx, "c1"))
	require.ErrorIs(t, codes.MarkAsUsed(ctx, "c1"), repository.ErrCodeUsed)

	expired := code
	expired.Code = "c2"
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, codes.Create(ctx, expired))
	n, err := codes.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestPostgresClientsAndSocial(t *testing.T) {
	pool := newPool(t)
	users := repository.NewPostgresUserRepo(pool)
	clients := repository.NewPostgresClientRepo(pool)
	social := repository.NewPostgresSocialAccountRepo(pool)
	ctx := context.Background()
	node, err := ids.NewNode(9)
	require.NoError(t, err)

	_, err = clients.Create(ctx, domain.OAuth2Client{
		ID: node.Next(), ClientID: "client_pg", Name: "pg", ClientType: domain.ClientPublic,
		RedirectURI: "https://app.test/cb", GrantTypes: "authorization_code,refresh_token", Scopes: domain.DefaultScopes, IsActive: true,
	})
	require.NoError(t, err)
	c, err := clients.GetByClientID(ctx, "client_pg")
	require.NoError(t, err)
	require.Empty(t, c.ClientSecret)
	require.True(t, c.SupportsGrant(domain.GrantRefreshToken))

	u := createUser(t, users, "soc@x.com")
	acc, err := social.Create(ctx, domain.SocialAccount{ID: node.Next(), UserID: u.ID, Provider: domain.ProviderKakao, ProviderUserID: "k1"})
	require.NoError(t, err)
	_, err = social.Create(ctx, domain.SocialAccount{ID: node.Next(), UserID: u.ID, Provider: domain.ProviderKakao, ProviderUserID: "k1"})
	require.ErrorIs(t, err, repository.ErrDuplicate)

	removed, err := social.Delete(ctx, acc.ID, uuid.NewString())
	require.NoError(t, err)
	require.False(t, removed)
	removed, err = social.Delete(ctx, acc.ID, u.ID)
	require.NoError(t, err)
	require.True(t, removed)

	first, err := social.Create(ctx, domain.SocialAccount{ID: node.Next(), UserID: u.ID, Provider: domain.ProviderKakao, ProviderUserID: "k2"})
	require.NoError(t, err)
	second, err := social.Create(ctx, domain.SocialAccount{ID: node.Next(), UserID: u.ID, Provider: domain.ProviderNaver, ProviderUserID: "n2"})
	require.NoError(t, err)

	errs := make(chan error, 2)
	for _, id := range []int64{first.ID, second.ID} {
		go func(id int64) {
			_, err := social.DeleteRetainingOne(ctx, id, u.ID)
			errs <- err
		}(id)
	}
	var lastAccount int
	for range 2 {
		if err := <-errs; err != nil {
			require.ErrorIs(t, err, repository.ErrLastAccount)
			lastAccount++
		}
	}
	require.Equal(t, 1, lastAccount)
	remaining, err := social.ListByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)

	require.NoError(t, users.Delete(ctx, u.ID))
	require.ErrorIs(t, users.Delete(ctx, u.ID), repository.ErrNotFound)
}
