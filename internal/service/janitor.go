package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
)

// TokenJanitor periodically purges expired and long-revoked refresh tokens and expired codes.
type TokenJanitor struct {
	refresh   repository.RefreshTokenRepository
	codes     repository.ExpiredCodePurger
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTokenJanitor builds a janitor. codes may be nil when the code store expires entries itself.
func NewTokenJanitor(refresh repository.RefreshTokenRepository, codes repository.ExpiredCodePurger, interval, retention time.Duration, logger *zap.Logger) *TokenJanitor {
	return &TokenJanitor{
		refresh:   refresh,
		codes:     codes,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// RunOnce performs a single cleanup pass.
func (j *TokenJanitor) RunOnce(ctx context.Context) (tokens, codes int64, err error) {
	now := j.now().UTC()
	tokens, err = j.refresh.DeleteExpired(ctx, now, now.Add(-j.retention))
	if err != nil {
		return 0, 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	if j.codes != nil {
		codes, err = j.codes.DeleteExpired(ctx, now)
		if err != nil {
			return tokens, 0, fmt.Errorf("purge authorization codes: %w", err)
		}
	}
	return tokens, codes, nil
}

// Start launches the cleanup loop. It is a no-op when already running.
func (j *TokenJanitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil || j.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.loop(ctx, j.done)
}

// Stop halts the loop and waits for an in-flight pass.
func (j *TokenJanitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *TokenJanitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tokens, codes, err := j.RunOnce(ctx)
			if err != nil {
				j.logger.Warn("token cleanup failed", zap.Error(err))
				continue
			}
			j.logger.Info("token cleanup", zap.Int64("refresh_tokens", tokens), zap.Int64("authorization_codes", codes))
		}
	}
}
