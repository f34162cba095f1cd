package login

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FileUserRepository implements UserRepository using a JSON file
type FileUserRepository struct {
	dataDir string
	users   map[uuid.UUID]*User
	mutex   sync.RWMutex
}

// userData represents the structure of data stored in the JSON file
type userData struct {
	Users []*User `json:"users"`
}

// NewFileUserRepository creates a new file-based user repository
func NewFileUserRepository(dataDir string) (*FileUserRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileUserRepository{
		dataDir: dataDir,
		users:   make(map[uuid.UUID]*User),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

// FindUserByEmail returns the user with the given normalized email
func (r *FileUserRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	email = NormalizeEmail(email)
	for _, user := range r.users {
		if user.Email == email {
			return *user, nil
		}
	}
	return User{}, ErrUserNotFound
}

// GetUserByID returns the user with the given id
func (r *FileUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return *user, nil
}

// CreateUser stores a user and persists the file
func (r *FileUserRepository) CreateUser(ctx context.Context, user User) (User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	user.Email = NormalizeEmail(user.Email)
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return User{}, ErrUserAlreadyExists
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	userCopy := user
	r.users[user.ID] = &userCopy
	if err := r.save(); err != nil {
		delete(r.users, user.ID)
		return User{}, fmt.Errorf("failed to save: %w", err)
	}
	return user, nil
}

// CountUsers returns the number of stored users
func (r *FileUserRepository) CountUsers(ctx context.Context) (int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.users), nil
}

func (r *FileUserRepository) load() error {
	path := filepath.Join(r.dataDir, "users.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var stored userData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	for _, user := range stored.Users {
		r.users[user.ID] = user
	}
	return nil
}

// save writes user data to file atomically
func (r *FileUserRepository) save() error {
	users := make([]*User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user)
	}

	jsonData, err := json.MarshalIndent(userData{Users: users}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, "users.json.tmp")
	if err := os.WriteFile(tempFile, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, filepath.Join(r.dataDir, "users.json")); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
