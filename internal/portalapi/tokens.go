package portalapi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"
)

// Token is a bearer token with the timestamps read from its claims.
type Token struct {
	Value     string    `yaml:"value"`
	IssuedAt  time.Time `yaml:"issued_at,omitempty"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
}

// Expired reports whether the token has a known expiry at or before now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// TokenStore holds the current bearer token.
type TokenStore interface {
	Get() (Token, bool)
	Set(t Token) error
	Clear() error
}

// ParseToken reads iat/exp from a JWT bearer without verifying its
// signature; the backend remains the authority on validity. Opaque tokens
// come back with zero timestamps.
func ParseToken(raw string) Token {
	tok := Token{Value: raw}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return tok
	}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}
	return tok
}

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu  sync.RWMutex
	tok *Token
}

// NewMemoryTokenStore returns an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Get implements TokenStore.
func (s *MemoryTokenStore) Get() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tok == nil {
		return Token{}, false
	}
	return *s.tok, true
}

// Set implements TokenStore.
func (s *MemoryTokenStore) Set(t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = &t
	return nil
}

// Clear implements TokenStore.
func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = nil
	return nil
}

// FileTokenStore persists the token as YAML so it survives restarts.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
}

// NewFileTokenStore returns a store backed by path. The file need not exist.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Get implements TokenStore.
func (s *FileTokenStore) Get() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		return Token{}, false
	}
	var t Token
	if err := yaml.Unmarshal(b, &t); err != nil || t.Value == "" {
		return Token{}, false
	}
	return t, true
}

// Set implements TokenStore.
func (s *FileTokenStore) Set(t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Clear implements TokenStore.
func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}
