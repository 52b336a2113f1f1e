// Package auth holds the credential store and the login/verify/logout flow
// against the shop backend.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/matheus3301/tilechat/internal/chat"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoCredentials    = errors.New("no stored credentials")
)

// Provider exposes the current credentials to the synchronizer.
type Provider interface {
	// Token returns the auth token, or "" when not authenticated.
	Token() string
	// UserID returns the authenticated user's id, or 0.
	UserID() int64
}

// Persister is the durable side of the credential store.
type Persister interface {
	SaveCredentials(token string, user chat.User) error
	LoadCredentials() (string, *chat.User, error)
	ClearCredentials() error
}

// Store keeps the token and user durably and a session flag in memory.
// A token loaded from disk is only handed out after the session flag is
// set by Save or Resume.
type Store struct {
	persist Persister

	mu       sync.RWMutex
	token    string
	user     *chat.User
	session  bool
	onChange []func()
}

// NewStore creates a store. persist may be nil for a memory-only store.
func NewStore(persist Persister) *Store {
	return &Store{persist: persist}
}

// Load reads persisted credentials. The session flag stays unset.
func (s *Store) Load() error {
	if s.persist == nil {
		return nil
	}
	token, user, err := s.persist.LoadCredentials()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.user = user
	s.session = false
	s.mu.Unlock()
	return nil
}

// OnChange registers fn to run after every Save, Resume or Clear.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Token implements Provider.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.session {
		return ""
	}
	return s.token
}

// UserID implements Provider.
func (s *Store) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.session || s.user == nil {
		return 0
	}
	return s.user.ID
}

// User returns a copy of the authenticated user, or nil.
func (s *Store) User() *chat.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.session || s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Authenticated reports whether a token is present and the session flag set.
func (s *Store) Authenticated() bool {
	return s.Token() != ""
}

// StoredToken returns the persisted token regardless of the session flag.
func (s *Store) StoredToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Save persists token and user and sets the session flag.
func (s *Store) Save(token string, user chat.User) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("save credentials: empty token")
	}
	if s.persist != nil {
		if err := s.persist.SaveCredentials(token, user); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
	}
	s.mu.Lock()
	s.token = token
	s.user = &user
	s.session = true
	s.mu.Unlock()
	s.changed()
	return nil
}

// Resume sets the session flag for the stored token after a successful
// verification, refreshing the user.
func (s *Store) Resume(user chat.User) error {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return ErrNoCredentials
	}
	token := s.token
	s.user = &user
	s.session = true
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveCredentials(token, user); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
	}
	s.changed()
	return nil
}

// Clear removes all auth data, durable and in memory.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.session = false
	s.mu.Unlock()

	var err error
	if s.persist != nil {
		if cerr := s.persist.ClearCredentials(); cerr != nil {
			err = fmt.Errorf("clear credentials: %w", cerr)
		}
	}
	s.changed()
	return err
}

func (s *Store) changed() {
	s.mu.RLock()
	fns := append([]func(){}, s.onChange...)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
