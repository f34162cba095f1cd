package login

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileUserRepository_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := NewFileUserRepository(dir)
	require.NoError(t, err)

	user := User{
		ID:           uuid.New(),
		Email:        "Instructor@Example.com",
		Role:         RoleInstructor,
		Active:       true,
		PasswordHash: "$2a$04$hash",
		CreatedAt:    time.Now().UTC(),
	}
	_, err = repo.CreateUser(ctx, user)
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, User{Email: "instructor@example.com"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	// Reopen from disk
	reopened, err := NewFileUserRepository(dir)
	require.NoError(t, err)

	found, err := reopened.FindUserByEmail(ctx, "instructor@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, RoleInstructor, found.Role)
	assert.Equal(t, "$2a$04$hash", found.PasswordHash)

	count, err := reopened.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = reopened.GetUserByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestNewUserRepository(t *testing.T) {
	repo, err := NewUserRepository("memory", RepositoryConfig{})
	require.NoError(t, err)
	assert.IsType(t, &InMemoryUserRepository{}, repo)

	_, err = NewUserRepository("file", RepositoryConfig{})
	assert.Error(t, err)

	_, err = NewUserRepository("postgres", RepositoryConfig{})
	assert.Error(t, err)

	_, err = NewUserRepository("mongo", RepositoryConfig{})
	assert.Error(t, err)
}
