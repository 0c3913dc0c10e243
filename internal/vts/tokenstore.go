package vts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenStore persists the authentication token as a plain text file. The
// file holds exactly the token string; absence means no token. The store
// is the sole writer of the persisted copy.
type TokenStore struct {
	path string
}

// NewTokenStore binds the store to a file path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the backing file location.
func (s *TokenStore) Path() string {
	return s.path
}

// Load returns the persisted token. A missing file is not an error; it
// reports absent.
func (s *TokenStore) Load() (string, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("vts: load token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Save overwrites the persisted token.
func (s *TokenStore) Save(token string) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("vts: save token: %w", err)
		}
	}
	if err := os.WriteFile(s.path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("vts: save token: %w", err)
	}
	return nil
}

// Clear deletes the persisted token. Clearing an absent token succeeds.
func (s *TokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vts: clear token: %w", err)
	}
	return nil
}
