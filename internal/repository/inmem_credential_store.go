package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"monitor-backend/internal/domain"
)

var ErrCredentialsNotFound = errors.New("credentials not found")

// InMemoryCredentialStore keeps broker credentials in memory for dev and
// tests. Secrets are stored as-is; the Postgres store encrypts at rest.
type InMemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]*domain.BrokerCredentials
}

func NewInMemoryCredentialStore() *InMemoryCredentialStore {
	return &InMemoryCredentialStore{
		creds: make(map[string]*domain.BrokerCredentials),
	}
}

func (r *InMemoryCredentialStore) Save(_ context.Context, cred *domain.BrokerCredentials) error {
	if cred == nil || cred.UserID == "" {
		return errors.New("credentials require a user id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	saved := *cred
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now
	r.creds[cred.UserID] = &saved
	return nil
}

func (r *InMemoryCredentialStore) Get(_ context.Context, userID string) (*domain.BrokerCredentials, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.creds[userID]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	out := *cred
	return &out, nil
}

func (r *InMemoryCredentialStore) ListConnected(_ context.Context) ([]*domain.BrokerCredentials, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.BrokerCredentials, 0)
	for _, cred := range r.creds {
		if cred.Connected {
			c := *cred
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *InMemoryCredentialStore) MarkDisconnected(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[userID]
	if !ok {
		return ErrCredentialsNotFound
	}
	cred.Connected = false
	cred.DisconnectedAt = &at
	cred.UpdatedAt = time.Now()
	return nil
}

func (r *InMemoryCredentialStore) MarkConnected(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[userID]
	if !ok {
		return ErrCredentialsNotFound
	}
	cred.Connected = true
	cred.DisconnectedAt = nil
	cred.UpdatedAt = time.Now()
	return nil
}

func (r *InMemoryCredentialStore) UpdateLastValidated(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[userID]
	if !ok {
		return ErrCredentialsNotFound
	}
	cred.LastValidated = at
	return nil
}

// compile-time check
var _ domain.CredentialStore = (*InMemoryCredentialStore)(nil)
