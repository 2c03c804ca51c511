// Package auth implements the bearer-token issuance, validation, and
// sweep machinery (C14) that gates every API route except /health.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const tokenTTL = 24 * time.Hour

var ErrTokenNotFound = errors.New("auth: token not found")

// TokenRecord is one issued token's persisted metadata. The plaintext
// token is never stored, only its hash.
type TokenRecord struct {
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	ProjectID string    `json:"project_id,omitempty"`
	Revoked   bool      `json:"revoked"`
}

func (t TokenRecord) expired() bool {
	return time.Now().After(t.ExpiresAt)
}

// TokenStore persists issued tokens in a single 0600-mode JSON file,
// atomically rewritten on every mutation.
type TokenStore struct {
	path string
	mu   sync.Mutex
}

// NewTokenStore opens (or prepares to create) the token file at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Issue mints a new opaque bearer token, persists its hash, and
// returns the plaintext token. The plaintext is never stored or
// returned again.
func (s *TokenStore) Issue(projectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.NewString()
	now := time.Now().UTC()
	record := TokenRecord{
		Hash:      hashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(tokenTTL),
		ProjectID: projectID,
	}

	records, err := s.load()
	if err != nil {
		return "", err
	}
	records = append(records, record)
	if err := s.save(records); err != nil {
		return "", err
	}
	return token, nil
}

// Validate hashes the presented token and looks it up. It rejects
// absent, revoked, or expired entries.
func (s *TokenStore) Validate(token string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	hash := hashToken(token)
	for _, r := range records {
		if r.Hash != hash {
			continue
		}
		if r.Revoked {
			return nil, ErrTokenNotFound
		}
		if r.expired() {
			return nil, ErrTokenNotFound
		}
		return &r, nil
	}
	return nil, ErrTokenNotFound
}

// Revoke marks every record matching hash as revoked.
func (s *TokenStore) Revoke(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	hash := hashToken(token)
	found := false
	for i := range records {
		if records[i].Hash == hash {
			records[i].Revoked = true
			found = true
		}
	}
	if !found {
		return ErrTokenNotFound
	}
	return s.save(records)
}

// Sweep removes expired entries, returning how many were dropped.
func (s *TokenStore) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return 0, err
	}

	kept := records[:0]
	dropped := 0
	for _, r := range records {
		if r.expired() {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	if dropped > 0 {
		if err := s.save(kept); err != nil {
			return 0, err
		}
	}
	return dropped, nil
}

func (s *TokenStore) load() ([]TokenRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: read token store: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []TokenRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("auth: decode token store: %w", err)
	}
	return records, nil
}

func (s *TokenStore) save(records []TokenRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("auth: mkdir token store dir: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode token store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("auth: write tmp token store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
