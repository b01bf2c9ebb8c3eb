// Package credential defines the bearer token store the transport reads from.
//
// The engine never writes credentials. It reads the token on every request
// and asks the store to clear it when the backend answers 401. Setting a
// token is the login command's job and happens outside the engine.
package credential

import (
	"context"
	"errors"
	"sync"
)

// ErrNoCredential is returned by Get when no token is stored.
var ErrNoCredential = errors.New("no credential stored")

// Store is the capability the transport adapter is constructed with.
type Store interface {
	// Get returns the current bearer token, or ErrNoCredential.
	Get(ctx context.Context) (string, error)
	// Clear invalidates the stored token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Setter is implemented by stores that accept a new token after login.
type Setter interface {
	Set(ctx context.Context, token string) error
}

// WritableStore is a Store that also accepts tokens.
type WritableStore interface {
	Store
	Setter
}

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	token string
}

// NewMemory creates a memory store holding token. An empty token means
// the store starts empty.
func NewMemory(token string) *Memory {
	return &Memory{token: token}
}

// Get returns the stored token.
func (m *Memory) Get(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" {
		return "", ErrNoCredential
	}
	return m.token, nil
}

// Set replaces the stored token.
func (m *Memory) Set(_ context.Context, token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

// Clear empties the store.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	return nil
}

var _ WritableStore = (*Memory)(nil)
