// Package auth owns the OAuth2 credential lifecycle of a trading session:
// the in-memory credential store and the password/refresh grant exchanges
// that keep it populated.
package auth

import (
	"sync"
	"time"
)

// DefaultExpiryMargin is how long before the server-declared expiry a token
// is already treated as expiring.
const DefaultExpiryMargin = 60 * time.Second

// Credential is one issued access/refresh token pair.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	GrantedAt    time.Time
}

// ExpiresAt is the server-declared end of validity.
func (c Credential) ExpiresAt() time.Time {
	return c.GrantedAt.Add(c.ExpiresIn)
}

// Store holds the current credential of one session. It is never persisted
// and never shared between sessions.
type Store struct {
	mu      sync.RWMutex
	cred    Credential
	granted bool
	now     func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Set replaces the credential. A zero GrantedAt is stamped with the current
// time so the pair and its grant time change together.
func (s *Store) Set(c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.GrantedAt.IsZero() {
		c.GrantedAt = s.now()
	}
	s.cred = c
	s.granted = true
}

// Clear drops the credential, returning the store to the unauthenticated state.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
	s.granted = false
}

// Current returns the credential and whether one has been granted.
func (s *Store) Current() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.granted
}

// IsExpiringSoon is true when nothing has been granted yet, or when
// now >= granted_at + expires_in - margin.
func (s *Store) IsExpiringSoon(margin time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.granted {
		return true
	}
	deadline := s.cred.GrantedAt.Add(s.cred.ExpiresIn - margin)
	return !s.now().Before(deadline)
}
