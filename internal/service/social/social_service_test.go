package social_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	adapteroauth "github.com/Choi-Seunghwan/IdP-server/internal/adapter/oauth"
	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	domainoauth "github.com/Choi-Seunghwan/IdP-server/internal/domain/oauth"
	"github.com/Choi-Seunghwan/IdP-server/internal/ids"
	"github.com/Choi-Seunghwan/IdP-server/internal/jwt"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
	"github.com/Choi-Seunghwan/IdP-server/internal/service"
	"github.com/Choi-Seunghwan/IdP-server/internal/service/social"
)

type fakeProvider struct {
	name     domain.SocialProvider
	profiles map[string]domainoauth.Profile
}

func (p *fakeProvider) Name() domain.SocialProvider { return p.name }

func (p *fakeProvider) AuthorizationURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code string) (string, error) {
	if _, ok := p.profiles[code]; !ok {
		return "", domainoauth.ErrExchangeFailed
	}
	return "token-" + code, nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, accessToken string) (domainoauth.Profile, error) {
	profile, ok := p.profiles[accessToken[len("token-"):]]
	if !ok {
		return domainoauth.Profile{}, errors.New("unknown token")
	}
	return profile, nil
}

type socialHarness struct {
	svc       *social.Service
	users     *repository.MemoryUserRepo
	accounts  *repository.MemorySocialAccountRepo
	ephemeral *repository.MemoryEphemeralStore
	provider  *fakeProvider
}

func newSocialHarness(t *testing.T) *socialHarness {
	t.Helper()
	return newSocialHarnessWith(t, nil)
}

// newSocialHarnessWith lets a test decorate the social account store seen by the service.
func newSocialHarnessWith(t *testing.T, wrap func(repository.SocialAccountRepository) repository.SocialAccountRepository) *socialHarness {
	t.Helper()
	keys, err := jwt.GenerateKeyProvider(2048, "test")
	require.NoError(t, err)
	codec := jwt.NewCodec(keys, "https://idp.test", 30*time.Minute, 7*24*time.Hour)

	users := repository.NewMemoryUserRepo()
	refresh := repository.NewMemoryRefreshTokenRepo()
	accounts := repository.NewMemorySocialAccountRepo()
	ephemeral := repository.NewMemoryEphemeralStore()
	issuer := service.NewTokenIssuer(codec, refresh, users, nil)
	auth := service.NewAuthService(users, refresh, issuer, zap.NewNop())
	node, err := ids.NewNode(1)
	require.NoError(t, err)

	provider := &fakeProvider{name: domain.ProviderGoogle, profiles: map[string]domainoauth.Profile{
		"code-1": {ProviderUserID: "g-1", Email: "Social@X.com", Name: "Social User"},
		"code-2": {ProviderUserID: "g-2"},
	}}
	var accountStore repository.SocialAccountRepository = accounts
	if wrap != nil {
		accountStore = wrap(accounts)
	}
	svc := social.NewService(adapteroauth.NewRegistry(provider), ephemeral, users, accountStore, auth, node, nil,
		social.Options{AllowedRedirects: []string{"https://app.test/callback"}}, zap.NewNop())

	return &socialHarness{svc: svc, users: users, accounts: accounts, ephemeral: ephemeral, provider: provider}
}

func (h *socialHarness) login(t *testing.T, code string) social.CallbackResult {
	t.Helper()
	ctx := context.Background()
	start, err := h.svc.StartLogin(ctx, "google", "")
	require.NoError(t, err)
	res, err := h.svc.HandleCallback(ctx, "google", code, start.State)
	require.NoError(t, err)
	return res
}

func TestStartLogin(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	start, err := h.svc.StartLogin(ctx, "google", "https://app.test/callback")
	require.NoError(t, err)
	require.Len(t, start.State, 43)
	require.Contains(t, start.AuthorizationURL, "state="+start.State)

	_, err = h.svc.StartLogin(ctx, "google", "https://evil.test/")
	require.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = h.svc.StartLogin(ctx, "kakao", "")
	require.ErrorIs(t, err, domain.ErrBadRequest)
	_, err = h.svc.StartLogin(ctx, "myspace", "")
	require.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestCallbackProvisionsUserOnce(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	first := h.login(t, "code-1")
	require.True(t, first.IsNewUser)
	require.Len(t, first.Code, 43)

	grant, err := h.svc.RedeemExchangeCode(ctx, first.Code)
	require.NoError(t, err)
	require.True(t, grant.IsNewUser)
	require.NotEmpty(t, grant.AccessToken)
	require.NotEmpty(t, grant.RefreshToken)

	_, err = h.svc.RedeemExchangeCode(ctx, first.Code)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	user, err := h.users.GetByEmail(ctx, "social@x.com")
	require.NoError(t, err)
	require.Equal(t, "Social User", user.Username)
	require.False(t, user.HasPassword())

	second := h.login(t, "code-1")
	require.False(t, second.IsNewUser)
	accounts, err := h.svc.ListAccounts(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "g-1", accounts[0].ProviderUserID)
}

func TestCallbackWithoutEmailUsesPlaceholder(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	h.login(t, "code-2")
	account, err := h.accounts.FindByProvider(ctx, domain.ProviderGoogle, "g-2")
	require.NoError(t, err)
	user, err := h.users.GetByID(ctx, account.UserID)
	require.NoError(t, err)
	require.Regexp(t, `^user_[0-9a-f]{8}@social\.local$`, user.Email)
}

func TestCallbackRejectsBadState(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	_, err := h.svc.HandleCallback(ctx, "google", "code-1", "never-issued")
	require.ErrorIs(t, err, domain.ErrBadRequest)

	start, err := h.svc.StartLogin(ctx, "google", "https://app.test/callback")
	require.NoError(t, err)
	res, err := h.svc.HandleCallback(ctx, "google", "code-1", start.State)
	require.NoError(t, err)
	require.Equal(t, "https://app.test/callback", res.Redirect)

	_, err = h.svc.HandleCallback(ctx, "google", "code-1", start.State)
	require.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestCallbackProviderFailure(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	start, err := h.svc.StartLogin(ctx, "google", "")
	require.NoError(t, err)
	_, err = h.svc.HandleCallback(ctx, "google", "unknown-code", start.State)
	e, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, "provider_error", e.Code)
}

func TestCallbackEmailCollision(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	_, err := h.users.Create(ctx, domain.User{ID: "u-existing", Email: "social@x.com", IsActive: true, PasswordHash: "x"})
	require.NoError(t, err)

	start, err := h.svc.StartLogin(ctx, "google", "")
	require.NoError(t, err)
	_, err = h.svc.HandleCallback(ctx, "google", "code-1", start.State)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestConnectAndDisconnect(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	owner, err := h.users.Create(ctx, domain.User{ID: "u-owner", Email: "owner@x.com", IsActive: true})
	require.NoError(t, err)

	account, err := h.svc.Connect(ctx, owner.ID, "google", "code-1")
	require.NoError(t, err)
	require.Equal(t, owner.ID, account.UserID)

	_, err = h.svc.Connect(ctx, owner.ID, "google", "code-1")
	require.ErrorIs(t, err, domain.ErrBadRequest)

	// passwordless user keeps the only login method
	err = h.svc.Disconnect(ctx, owner.ID, account.ID)
	require.ErrorIs(t, err, domain.ErrBadRequest)

	second, err := h.svc.Connect(ctx, owner.ID, "google", "code-2")
	require.NoError(t, err)
	require.NoError(t, h.svc.Disconnect(ctx, owner.ID, second.ID))

	require.NoError(t, h.svc.Disconnect(ctx, owner.ID, 424242))
	require.NoError(t, h.svc.Disconnect(ctx, "someone-else", account.ID))

	accounts, err := h.svc.ListAccounts(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}

func TestDisconnectWithPassword(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	owner, err := h.users.Create(ctx, domain.User{ID: "u-pw", Email: "pw@x.com", IsActive: true, PasswordHash: "hash"})
	require.NoError(t, err)
	account, err := h.svc.Connect(ctx, owner.ID, "google", "code-1")
	require.NoError(t, err)

	require.NoError(t, h.svc.Disconnect(ctx, owner.ID, account.ID))
	accounts, err := h.svc.ListAccounts(ctx, owner.ID)
	require.NoError(t, err)
	require.Empty(t, accounts)
}

func TestDisconnectConcurrentKeepsOneAccount(t *testing.T) {
	h := newSocialHarness(t)
	ctx := context.Background()

	owner, err := h.users.Create(ctx, domain.User{ID: "u-race", Email: "race@x.com", IsActive: true})
	require.NoError(t, err)
	first, err := h.svc.Connect(ctx, owner.ID, "google", "code-1")
	require.NoError(t, err)
	second, err := h.svc.Connect(ctx, owner.ID, "google", "code-2")
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			<-start
			errs[i] = h.svc.Disconnect(ctx, owner.ID, id)
		}(i, id)
	}
	close(start)
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, domain.ErrBadRequest)
			failed++
		}
	}
	require.Equal(t, 1, failed)

	accounts, err := h.svc.ListAccounts(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}

// staleLookupAccounts misses the first FindByProvider, as a login racing another first login would.
type staleLookupAccounts struct {
	repository.SocialAccountRepository
	missed  atomic.Bool
	mu      sync.Mutex
	linking []string
}

func (r *staleLookupAccounts) Create(ctx context.Context, account domain.SocialAccount) (domain.SocialAccount, error) {
	r.mu.Lock()
	r.linking = append(r.linking, account.UserID)
	r.mu.Unlock()
	return r.SocialAccountRepository.Create(ctx, account)
}

func (r *staleLookupAccounts) FindByProvider(ctx context.Context, provider domain.SocialProvider, providerUserID string) (domain.SocialAccount, error) {
	if r.missed.CompareAndSwap(false, true) {
		return domain.SocialAccount{}, repository.ErrNotFound
	}
	return r.SocialAccountRepository.FindByProvider(ctx, provider, providerUserID)
}

func TestCallbackLosingLinkRaceUsesLinkedUser(t *testing.T) {
	stale := &staleLookupAccounts{}
	h := newSocialHarnessWith(t, func(inner repository.SocialAccountRepository) repository.SocialAccountRepository {
		stale.SocialAccountRepository = inner
		return stale
	})
	ctx := context.Background()

	winner, err := h.users.Create(ctx, domain.User{ID: "u-winner", Email: "winner@x.com", IsActive: true})
	require.NoError(t, err)
	_, err = h.accounts.Create(ctx, domain.SocialAccount{ID: 1, UserID: winner.ID, Provider: domain.ProviderGoogle, ProviderUserID: "g-2"})
	require.NoError(t, err)

	res := h.login(t, "code-2")
	require.False(t, res.IsNewUser)

	grant, err := h.svc.RedeemExchangeCode(ctx, res.Code)
	require.NoError(t, err)
	require.False(t, grant.IsNewUser)

	accounts, err := h.accounts.ListByUserID(ctx, winner.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	// the user provisioned for the failed link is removed again
	require.Len(t, stale.linking, 1)
	require.NotEqual(t, winner.ID, stale.linking[0])
	_, err = h.users.GetByID(ctx, stale.linking[0])
	require.ErrorIs(t, err, repository.ErrNotFound)
}
