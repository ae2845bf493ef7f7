package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
)

// In-memory stores back development mode (STORAGE=memory) and tests. They honour the same
// atomicity contracts as the Postgres and Redis stores by serialising on a mutex.

var (
	_ UserRepository              = (*MemoryUserRepo)(nil)
	_ RefreshTokenRepository      = (*MemoryRefreshTokenRepo)(nil)
	_ AuthorizationCodeRepository = (*MemoryCodeRepo)(nil)
	_ ExpiredCodePurger           = (*MemoryCodeRepo)(nil)
	_ ClientRepository            = (*MemoryClientRepo)(nil)
	_ SocialAccountRepository     = (*MemorySocialAccountRepo)(nil)
	_ EphemeralStore              = (*MemoryEphemeralStore)(nil)
)

// MemoryUserRepo implements UserRepository.
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: map[string]domain.User{}}
}

func (r *MemoryUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return domain.User{}, ErrNotFound
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return domain.User{}, ErrNotFound
}

func (r *MemoryUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; ok {
		return domain.User{}, ErrDuplicate
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return domain.User{}, ErrDuplicate
		}
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepo) UpdatePasswordHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u
	return nil
}

func (r *MemoryUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// MemoryRefreshTokenRepo implements RefreshTokenRepository.
type MemoryRefreshTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]domain.RefreshToken
	now    func() time.Time
}

func NewMemoryRefreshTokenRepo() *MemoryRefreshTokenRepo {
	return &MemoryRefreshTokenRepo{tokens: map[string]domain.RefreshToken{}, now: time.Now}
}

func (r *MemoryRefreshTokenRepo) Create(_ context.Context, token domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(token)
}

func (r *MemoryRefreshTokenRepo) insertLocked(token domain.RefreshToken) error {
	if _, ok := r.tokens[token.ID]; ok {
		return ErrDuplicate
	}
	for _, t := range r.tokens {
		if t.TokenHash == token.TokenHash {
			return ErrDuplicate
		}
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = r.now().UTC()
	}
	r.tokens[token.ID] = token
	return nil
}

func (r *MemoryRefreshTokenRepo) FindByTokenHash(_ context.Context, hash string) (domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, t := range r.tokens {
		if t.TokenHash == hash && t.IsActive(now) {
			return t, nil
		}
	}
	return domain.RefreshToken{}, ErrNotFound
}

func (r *MemoryRefreshTokenRepo) FindByFamilyID(_ context.Context, familyID string) ([]domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RefreshToken
	for _, t := range r.tokens {
		if t.FamilyID == familyID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRefreshTokenRepo) RevokeByID(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeLocked(id), nil
}

func (r *MemoryRefreshTokenRepo) revokeLocked(id string) bool {
	t, ok := r.tokens[id]
	if !ok || t.RevokedAt != nil {
		return false
	}
	now := r.now().UTC()
	t.RevokedAt = &now
	r.tokens[id] = t
	return true
}

func (r *MemoryRefreshTokenRepo) RevokeByUserID(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if t.UserID == userID && r.revokeLocked(id) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRefreshTokenRepo) RevokeFamily(_ context.Context, familyID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if t.FamilyID == familyID && r.revokeLocked(id) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRefreshTokenRepo) Rotate(_ context.Context, oldID string, next domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.revokeLocked(oldID) {
		return ErrAlreadyRevoked
	}
	return r.insertLocked(next)
}

func (r *MemoryRefreshTokenRepo) DeleteExpired(_ context.Context, now, revokedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if !t.ExpiresAt.After(now) || (t.RevokedAt != nil && t.RevokedAt.Before(revokedBefore)) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

// MemoryCodeRepo implements AuthorizationCodeRepository.
type MemoryCodeRepo struct {
	mu    sync.Mutex
	codes map[string]domain.AuthorizationCode
}

func NewMemoryCodeRepo() *MemoryCodeRepo {
	return &MemoryCodeRepo{codes: map[string]domain.AuthorizationCode{}}
}

func (r *MemoryCodeRepo) Create(_ context.Context, code domain.AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[code.Code]; ok {
		return ErrDuplicate
	}
	r.codes[code.Code] = code
	return nil
}

func (r *MemoryCodeRepo) FindByCode(_ context.Context, code string) (domain.AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.codes[code]; ok {
		return c, nil
	}
	return domain.AuthorizationCode{}, ErrNotFound
}

func (r *MemoryCodeRepo) MarkAsUsed(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[code]
	if !ok || c.IsUsed {
		return ErrCodeUsed
	}
	c.IsUsed = true
	r.codes[code] = c
	return nil
}

func (r *MemoryCodeRepo) Delete(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, code)
	return nil
}

func (r *MemoryCodeRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, c := range r.codes {
		if c.Expired(now) {
			delete(r.codes, k)
			n++
		}
	}
	return n, nil
}

// MemoryClientRepo implements ClientRepository.
type MemoryClientRepo struct {
	mu      sync.RWMutex
	clients map[string]domain.OAuth2Client
}

func NewMemoryClientRepo() *MemoryClientRepo {
	return &MemoryClientRepo{clients: map[string]domain.OAuth2Client{}}
}

func (r *MemoryClientRepo) Create(_ context.Context, client domain.OAuth2Client) (domain.OAuth2Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client.ClientID]; ok {
		return domain.OAuth2Client{}, ErrDuplicate
	}
	now := time.Now().UTC()
	client.CreatedAt, client.UpdatedAt = now, now
	r.clients[client.ClientID] = client
	return client, nil
}

func (r *MemoryClientRepo) GetByClientID(_ context.Context, clientID string) (domain.OAuth2Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clients[clientID]; ok {
		return c, nil
	}
	return domain.OAuth2Client{}, ErrNotFound
}

// MemorySocialAccountRepo implements SocialAccountRepository.
type MemorySocialAccountRepo struct {
	mu       sync.RWMutex
	accounts map[int64]domain.SocialAccount
}

func NewMemorySocialAccountRepo() *MemorySocialAccountRepo {
	return &MemorySocialAccountRepo{accounts: map[int64]domain.SocialAccount{}}
}

func (r *MemorySocialAccountRepo) Create(_ context.Context, account domain.SocialAccount) (domain.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Provider == account.Provider && a.ProviderUserID == account.ProviderUserID {
			return domain.SocialAccount{}, ErrDuplicate
		}
	}
	if _, ok := r.accounts[account.ID]; ok {
		return domain.SocialAccount{}, ErrDuplicate
	}
	account.CreatedAt = time.Now().UTC()
	r.accounts[account.ID] = account
	return account, nil
}

func (r *MemorySocialAccountRepo) FindByProvider(_ context.Context, provider domain.SocialProvider, providerUserID string) (domain.SocialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.Provider == provider && a.ProviderUserID == providerUserID {
			return a, nil
		}
	}
	return domain.SocialAccount{}, ErrNotFound
}

func (r *MemorySocialAccountRepo) ListByUserID(_ context.Context, userID string) ([]domain.SocialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.SocialAccount{}
	for _, a := range r.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemorySocialAccountRepo) Delete(_ context.Context, id int64, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || a.UserID != userID {
		return false, nil
	}
	delete(r.accounts, id)
	return true, nil
}

func (r *MemorySocialAccountRepo) DeleteRetainingOne(_ context.Context, id int64, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || a.UserID != userID {
		return false, nil
	}
	linked := 0
	for _, other := range r.accounts {
		if other.UserID == userID {
			linked++
		}
	}
	if linked <= 1 {
		return false, ErrLastAccount
	}
	delete(r.accounts, id)
	return true, nil
}

// MemoryEphemeralStore implements EphemeralStore with lazy expiry.
type MemoryEphemeralStore struct {
	mu      sync.Mutex
	entries map[string]ephemeralEntry
	now     func() time.Time
}

type ephemeralEntry struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemoryEphemeralStore() *MemoryEphemeralStore {
	return &MemoryEphemeralStore{entries: map[string]ephemeralEntry{}, now: time.Now}
}

func (s *MemoryEphemeralStore) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal ephemeral value: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = ephemeralEntry{payload: payload, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryEphemeralStore) Consume(_ context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if !ok || !entry.expiresAt.After(s.now()) {
		return false, nil
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return false, fmt.Errorf("decode ephemeral value: %w", err)
	}
	return true, nil
}
