package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/simple-lms/pkg/login"
)

// generatedPasswordBytes is the entropy of an auto-generated admin password
const generatedPasswordBytes = 18

// AdminBootstrapConfig contains configuration for creating the first administrator
type AdminBootstrapConfig struct {
	// Admin credentials (from SEED_ADMIN_EMAIL, SEED_ADMIN_PASSWORD).
	// An empty password is generated.
	AdminEmail    string
	AdminPassword string

	// Service dependencies
	LoginService *login.LoginService
}

// AdminBootstrapResult contains the result of admin bootstrap operation
type AdminBootstrapResult struct {
	UserID      uuid.UUID
	Email       string
	Password    string // Only populated if auto-generated
	UserCreated bool   // true if user was created, false if skipped

	// Password was provided via environment variable
	PasswordFromEnv bool
}

// BootstrapAdmin creates the first administrator if the user store is empty.
// It does nothing when no admin email is configured or users already exist.
func BootstrapAdmin(ctx context.Context, cfg AdminBootstrapConfig) (*AdminBootstrapResult, error) {
	if cfg.AdminEmail == "" {
		slog.Debug("No admin email configured - skipping admin bootstrap")
		return &AdminBootstrapResult{UserCreated: false}, nil
	}
	if cfg.LoginService == nil {
		return nil, fmt.Errorf("invalid bootstrap configuration: LoginService is required")
	}

	exists, err := cfg.LoginService.AnyUserExists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check if users exist: %w", err)
	}
	if exists {
		slog.Info("Users already exist - skipping admin bootstrap")
		return &AdminBootstrapResult{UserCreated: false}, nil
	}

	password := cfg.AdminPassword
	if password == "" {
		password, err = generatePassword()
		if err != nil {
			return nil, fmt.Errorf("failed to generate admin password: %w", err)
		}
	}

	admin, err := cfg.LoginService.CreateUser(ctx, login.CreateUserParams{
		Email:     cfg.AdminEmail,
		Password:  password,
		FirstName: "Admin",
		Role:      login.RoleAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}

	result := &AdminBootstrapResult{
		UserID:          admin.ID,
		Email:           admin.Email,
		UserCreated:     true,
		PasswordFromEnv: cfg.AdminPassword != "",
	}
	if !result.PasswordFromEnv {
		result.Password = password
	}

	slog.Info("Admin bootstrap completed successfully", "user_id", admin.ID, "email", admin.Email)
	return result, nil
}

func generatePassword() (string, error) {
	b := make([]byte, generatedPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
