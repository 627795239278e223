package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"leadwire/internal/infra/localstore"
)

const credentialsKey = "credentials"

var (
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrStaleRefresh   = errors.New("refresh result superseded by a newer attempt")
)

// Credentials is the bearer token pair of the signed-in user.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshTicket identifies one refresh attempt. Only the ticket of the most
// recent attempt in the current session may commit a new access token.
type RefreshTicket struct {
	epoch   uint64
	attempt uint64
}

// Store is the single owner of session credentials. Reads are served from
// memory once loaded; every mutation is written through to storage.
type Store struct {
	mu      sync.RWMutex
	storage localstore.Storage
	creds   *Credentials
	loaded  bool
	epoch   uint64
	attempt uint64
}

// NewStore creates a credential store backed by storage.
func NewStore(storage localstore.Storage) *Store {
	return &Store{storage: storage}
}

// Load reads persisted credentials, if any. Safe to call more than once.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	var creds Credentials
	err := s.storage.Get(ctx, credentialsKey, &creds)
	switch {
	case errors.Is(err, localstore.ErrNotFound):
		s.creds = nil
	case err != nil:
		return fmt.Errorf("loading credentials: %w", err)
	default:
		s.creds = &creds
	}
	s.loaded = true
	return nil
}

func (s *Store) current(ctx context.Context) *Credentials {
	s.mu.RLock()
	if s.loaded {
		creds := s.creds
		s.mu.RUnlock()
		return creds
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		slog.Error("credential store unavailable", "error", err)
		return nil
	}
	return s.creds
}

// AccessToken returns the current access token or "" when signed out.
func (s *Store) AccessToken(ctx context.Context) string {
	if creds := s.current(ctx); creds != nil {
		return creds.AccessToken
	}
	return ""
}

// RefreshToken returns the current refresh token or "" when signed out.
func (s *Store) RefreshToken(ctx context.Context) string {
	if creds := s.current(ctx); creds != nil {
		return creds.RefreshToken
	}
	return ""
}

// SignedIn reports whether a refresh token is held.
func (s *Store) SignedIn(ctx context.Context) bool {
	return s.RefreshToken(ctx) != ""
}

// SetSession stores a freshly issued token pair and starts a new session.
// Refresh attempts begun in the previous session can no longer commit.
func (s *Store) SetSession(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Set(ctx, credentialsKey, creds); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	s.creds = &creds
	s.loaded = true
	s.epoch++
	s.attempt = 0
	return nil
}

// BeginRefresh registers a new refresh attempt and returns its ticket.
func (s *Store) BeginRefresh() RefreshTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	return RefreshTicket{epoch: s.epoch, attempt: s.attempt}
}

// CommitRefresh replaces the access token if ticket is still the latest
// attempt of the current session. Otherwise nothing changes and
// ErrStaleRefresh is returned.
func (s *Store) CommitRefresh(ctx context.Context, ticket RefreshTicket, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.epoch != s.epoch || ticket.attempt != s.attempt || s.creds == nil {
		return ErrStaleRefresh
	}

	next := Credentials{AccessToken: accessToken, RefreshToken: s.creds.RefreshToken}
	if err := s.storage.Set(ctx, credentialsKey, next); err != nil {
		return fmt.Errorf("saving refreshed credentials: %w", err)
	}
	s.creds = &next
	return nil
}

// Clear destroys both tokens. It returns true only for the call that
// actually ended a session; clearing an already signed-out store is a no-op.
// When storage cannot delete the tokens the session stays intact.
func (s *Store) Clear(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return false, err
	}
	if s.creds == nil {
		return false, nil
	}

	// Memory follows storage.
	if err := s.storage.Delete(ctx, credentialsKey); err != nil {
		return false, fmt.Errorf("deleting credentials: %w", err)
	}
	s.creds = nil
	s.epoch++
	s.attempt = 0
	return true, nil
}
