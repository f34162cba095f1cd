package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/tendant/simple-lms/pkg/errors"
)

// LoginService validates credentials against stored password hashes
type LoginService struct {
	repository UserRepository
	hasher     PasswordHasher
	// dummyHash is verified when the email is unknown so both failure paths
	// cost one hash comparison.
	dummyHash string
}

// Option configures a LoginService
type Option func(*LoginService)

// WithPasswordHasher overrides the default bcrypt hasher
func WithPasswordHasher(hasher PasswordHasher) Option {
	return func(s *LoginService) {
		s.hasher = hasher
	}
}

// NewLoginService creates a login service backed by repository
func NewLoginService(repository UserRepository, opts ...Option) *LoginService {
	s := &LoginService{
		repository: repository,
		hasher:     NewBcryptHasher(),
	}
	for _, opt := range opts {
		opt(s)
	}

	dummy, err := s.hasher.Hash(uuid.NewString())
	if err != nil {
		slog.Error("Failed to prepare dummy password hash", "err", err)
	}
	s.dummyHash = dummy
	return s
}

// ValidateCredentials checks email and password and returns the user with the
// password hash stripped. Unknown email, wrong password and inactive account
// all yield the same InvalidCredentials error.
func (s *LoginService) ValidateCredentials(ctx context.Context, email, password string) (User, error) {
	user, err := s.repository.FindUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			slog.Error("Failed to look up user for login", "err", err)
			return User{}, apperrors.InternalWrap(err, "failed to look up user")
		}
		if s.dummyHash != "" && password != "" {
			_, _ = s.hasher.Verify(password, s.dummyHash)
		}
		slog.Debug("Login rejected", "reason", "unknown email")
		return User{}, apperrors.InvalidCredentials()
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !valid {
		slog.Debug("Login rejected", "reason", "password mismatch", "userID", user.ID, "err", err)
		return User{}, apperrors.InvalidCredentials()
	}

	if !user.Active {
		slog.Info("Login rejected for inactive user", "userID", user.ID)
		return User{}, apperrors.InvalidCredentials()
	}

	return user.Sanitized(), nil
}

// GetUserByID returns the sanitized user with the given id
func (s *LoginService) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	user, err := s.repository.GetUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	return user.Sanitized(), nil
}

// CreateUserParams holds the fields required to register a user
type CreateUserParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      Role
}

// CreateUser hashes the password and stores a new active user
func (s *LoginService) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	email := NormalizeEmail(params.Email)
	if email == "" {
		return User{}, apperrors.InvalidInput("email", "is required")
	}
	role := params.Role
	if role == "" {
		role = RoleStudent
	}
	if _, err := ParseRole(string(role)); err != nil {
		return User{}, apperrors.InvalidInput("role", err.Error())
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return User{}, apperrors.InvalidInput("password", err.Error())
	}

	now := time.Now().UTC()
	user, err := s.repository.CreateUser(ctx, User{
		ID:           uuid.New(),
		Email:        email,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		Role:         role,
		Active:       true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("User created", "userID", user.ID, "role", user.Role)
	return user.Sanitized(), nil
}

// AnyUserExists reports whether the user store has at least one user
func (s *LoginService) AnyUserExists(ctx context.Context) (bool, error) {
	count, err := s.repository.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count users: %w", err)
	}
	return count > 0, nil
}
