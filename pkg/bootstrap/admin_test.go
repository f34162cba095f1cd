package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lms/pkg/login"
	"golang.org/x/crypto/bcrypt"
)

func newLoginService() *login.LoginService {
	return login.NewLoginService(login.NewInMemoryUserRepository(), login.WithPasswordHasher(&login.BcryptHasher{Cost: bcrypt.MinCost}))
}

func TestBootstrapAdmin_ConfiguredPassword(t *testing.T) {
	ctx := context.Background()
	svc := newLoginService()

	result, err := BootstrapAdmin(ctx, AdminBootstrapConfig{AdminEmail: "Admin@Example.com", AdminPassword: "admin-password", LoginService: svc})
	require.NoError(t, err)
	assert.True(t, result.UserCreated)
	assert.True(t, result.PasswordFromEnv)
	assert.Empty(t, result.Password)

	admin, err := svc.ValidateCredentials(ctx, "admin@example.com", "admin-password")
	require.NoError(t, err)
	assert.Equal(t, login.RoleAdmin, admin.Role)
	assert.Equal(t, result.UserID, admin.ID)
}

func TestBootstrapAdmin_GeneratedPassword(t *testing.T) {
	ctx := context.Background()
	svc := newLoginService()

	result, err := BootstrapAdmin(ctx, AdminBootstrapConfig{AdminEmail: "admin@example.com", LoginService: svc})
	require.NoError(t, err)
	require.True(t, result.UserCreated)
	assert.False(t, result.PasswordFromEnv)
	assert.Len(t, result.Password, 24)

	_, err = svc.ValidateCredentials(ctx, "admin@example.com", result.Password)
	assert.NoError(t, err)
}

func TestBootstrapAdmin_Skips(t *testing.T) {
	ctx := context.Background()
	svc := newLoginService()

	result, err := BootstrapAdmin(ctx, AdminBootstrapConfig{LoginService: svc})
	require.NoError(t, err)
	assert.False(t, result.UserCreated)

	_, err = BootstrapAdmin(ctx, AdminBootstrapConfig{AdminEmail: "first@example.com", AdminPassword: "first-password", LoginService: svc})
	require.NoError(t, err)

	result, err = BootstrapAdmin(ctx, AdminBootstrapConfig{AdminEmail: "second@example.com", AdminPassword: "second-password", LoginService: svc})
	require.NoError(t, err)
	assert.False(t, result.UserCreated)
}

func TestBootstrapAdmin_RequiresLoginService(t *testing.T) {
	_, err := BootstrapAdmin(context.Background(), AdminBootstrapConfig{AdminEmail: "admin@example.com"})
	assert.Error(t, err)
}
