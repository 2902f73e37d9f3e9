package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

type adminStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

type passwordHasher interface {
	Hash(password string) (string, error)
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, users adminStore, hasher passwordHasher, cfg config.BootstrapConfig, logger *slog.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || cfg.AdminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := users.GetByEmail(ctx, email)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(cfg.AdminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD rejected: %w", err)
	}

	hashedPassword, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	admin, err := users.Create(ctx, &models.User{
		Email:             email,
		PasswordHash:      hashedPassword,
		Name:              "Admin",
		Role:              models.RoleAdmin,
		Status:            models.StatusActive,
		EmailVerified:     true,
		PasswordChangedAt: &now,
	})
	if errors.Is(err, models.ErrConflict) {
		// another instance won the race
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created",
		slog.String("user_id", admin.ID),
		slog.String("email", pkglogger.SanitizedEmail(email)),
	)
	return nil
}
