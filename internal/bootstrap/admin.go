package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Choi-Seunghwan/IdP-server/internal/config"
	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	"github.com/Choi-Seunghwan/IdP-server/internal/service"
)

const adminUsername = "admin"

// EnsureAdmin registers the configured admin account if it does not exist yet. It is a no-op
// unless both ADMIN_EMAIL and ADMIN_PASSWORD are set.
func EnsureAdmin(ctx context.Context, cfg config.Config, auth *service.AuthService, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || strings.TrimSpace(cfg.AdminPass) == "" {
		return nil
	}

	user, err := auth.Register(ctx, email, cfg.AdminPass, adminUsername)
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap admin user: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", user.Email),
			zap.String("user_id", user.ID),
		)
	}
	return nil
}
