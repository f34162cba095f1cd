package login

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryUserRepository implements UserRepository using in-memory storage
type InMemoryUserRepository struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]User
	usersByEmail map[string]uuid.UUID
}

// NewInMemoryUserRepository creates a new in-memory user repository
func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users:        make(map[uuid.UUID]User),
		usersByEmail: make(map[string]uuid.UUID),
	}
}

// FindUserByEmail returns the user with the given normalized email
func (r *InMemoryUserRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.usersByEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.users[id], nil
}

// GetUserByID returns the user with the given id
func (r *InMemoryUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// CreateUser stores a user; emails are unique
func (r *InMemoryUserRepository) CreateUser(ctx context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.Email = NormalizeEmail(user.Email)
	if _, exists := r.usersByEmail[user.Email]; exists {
		return User{}, ErrUserAlreadyExists
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	r.users[user.ID] = user
	r.usersByEmail[user.Email] = user.ID
	return user, nil
}

// CountUsers returns the number of stored users
func (r *InMemoryUserRepository) CountUsers(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

// SetActive toggles the active flag; used by tests and seeding tools
func (r *InMemoryUserRepository) SetActive(id uuid.UUID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.users[id]; ok {
		user.Active = active
		r.users[id] = user
	}
}
