// Package credentials provides secure, encrypted storage for provider
// credentials (API keys, tokens) keyed by a caller-chosen string key.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ccodaemon/ccod/pkg/canonicalize"
)

const (
	// MaxKeyBytes is the maximum size of a credential key.
	MaxKeyBytes = 1 << 10 // 1 KiB
	// MaxSecretBytes is the maximum size of a credential secret.
	MaxSecretBytes = 100 << 10 // 100 KiB
)

var (
	ErrNotFound         = errors.New("credentials: not found")
	ErrKeyTooLarge      = errors.New("credentials: key exceeds 1 KiB")
	ErrSecretTooLarge   = errors.New("credentials: secret exceeds 100 KiB")
	ErrValidationFailed = errors.New("credentials: validation failed")
	ErrMetadataTampered = errors.New("credentials: stored metadata failed integrity check")
)

// Credential is a single stored secret and its metadata. Secret is
// zeroized by Zero once the caller is done using it.
type Credential struct {
	Key          string            `json:"key"`
	Secret       []byte            `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	LastAccessed time.Time         `json:"last_accessed"`
	LastRotated  *time.Time        `json:"last_rotated,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Zero overwrites the secret bytes in place.
func (c *Credential) Zero() {
	for i := range c.Secret {
		c.Secret[i] = 0
	}
}

// NeedsRefresh reports whether the credential expires within 5 minutes.
func (c *Credential) NeedsRefresh() bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return time.Until(*c.ExpiresAt) < 5*time.Minute
}

// Store manages encrypted credential storage backed by SQLite.
type Store struct {
	db     *sql.DB
	encKey []byte
	mu     sync.RWMutex
}

// NewStore creates a new credential store. encryptionKey must be exactly
// 32 bytes for AES-256-GCM.
func NewStore(db *sql.DB, encryptionKey []byte) (*Store, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("credentials: encryption key must be 32 bytes for AES-256")
	}
	s := &Store{db: db, encKey: encryptionKey}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			key TEXT PRIMARY KEY,
			secret TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT,
			last_accessed TEXT NOT NULL,
			last_rotated TEXT,
			metadata TEXT,
			metadata_hash TEXT
		)
	`)
	return err
}

// metadataHash computes the RFC 8785 canonical-JSON integrity hash of a
// credential's metadata, so tampering with the on-disk metadata column
// outside this package is detectable on the next Get.
func metadataHash(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	return canonicalize.CanonicalHash(meta)
}

func (s *Store) encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return "", fmt.Errorf("credentials: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("credentials: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("credentials: nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) decrypt(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("credentials: base64 decode: %w", err)
	}
	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, fmt.Errorf("credentials: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: new gcm: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("credentials: ciphertext too short")
	}
	nonce, body := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

// Save stores or replaces a credential, encrypting its secret at rest.
func (s *Store) Save(ctx context.Context, cred *Credential) error {
	if len(cred.Key) == 0 {
		return ErrValidationFailed
	}
	if len(cred.Key) > MaxKeyBytes {
		return ErrKeyTooLarge
	}
	if len(cred.Secret) > MaxSecretBytes {
		return ErrSecretTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	encSecret, err := s.encrypt(cred.Secret)
	if err != nil {
		return err
	}
	metaJSON, _ := json.Marshal(cred.Metadata)
	metaHash, err := metadataHash(cred.Metadata)
	if err != nil {
		return fmt.Errorf("credentials: hash metadata: %w", err)
	}

	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.LastAccessed = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (key, secret, created_at, expires_at, last_accessed, last_rotated, metadata, metadata_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			secret = excluded.secret,
			expires_at = excluded.expires_at,
			last_accessed = excluded.last_accessed,
			last_rotated = excluded.last_rotated,
			metadata = excluded.metadata,
			metadata_hash = excluded.metadata_hash
	`,
		cred.Key, encSecret, cred.CreatedAt.Format(time.RFC3339),
		nullableTime(cred.ExpiresAt), cred.LastAccessed.Format(time.RFC3339),
		nullableTime(cred.LastRotated), string(metaJSON), metaHash,
	)
	return err
}

// Get retrieves a credential by key, decrypting its secret, and bumps
// last_accessed.
func (s *Store) Get(ctx context.Context, key string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cred Credential
	var encSecret string
	var createdAt, lastAccessed string
	var expiresAt, lastRotated, metaJSON, metaHash sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT key, secret, created_at, expires_at, last_accessed, last_rotated, metadata, metadata_hash
		FROM credentials WHERE key = ?
	`, key).Scan(&cred.Key, &encSecret, &createdAt, &expiresAt, &lastAccessed, &lastRotated, &metaJSON, &metaHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cred.Secret, err = s.decrypt(encSecret)
	if err != nil {
		return nil, fmt.Errorf("credentials: decrypt secret: %w", err)
	}
	cred.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339, expiresAt.String)
		cred.ExpiresAt = &t
	}
	if lastRotated.Valid {
		t, _ := time.Parse(time.RFC3339, lastRotated.String)
		cred.LastRotated = &t
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &cred.Metadata)
	}

	wantHash, err := metadataHash(cred.Metadata)
	if err != nil {
		return nil, fmt.Errorf("credentials: hash metadata: %w", err)
	}
	if metaHash.Valid && metaHash.String != wantHash {
		return nil, ErrMetadataTampered
	}

	now := time.Now().UTC()
	_, _ = s.db.ExecContext(ctx, `UPDATE credentials SET last_accessed = ? WHERE key = ?`, now.Format(time.RFC3339), key)
	cred.LastAccessed = now

	return &cred, nil
}

// List returns the keys and metadata of all stored credentials, never
// their secrets.
func (s *Store) List(ctx context.Context) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key, created_at, expires_at, last_accessed, last_rotated, metadata FROM credentials ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		var createdAt, lastAccessed string
		var expiresAt, lastRotated, metaJSON sql.NullString
		if err := rows.Scan(&c.Key, &createdAt, &expiresAt, &lastAccessed, &lastRotated, &metaJSON); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		c.LastAccessed, _ = time.Parse(time.RFC3339, lastAccessed)
		if expiresAt.Valid {
			t, _ := time.Parse(time.RFC3339, expiresAt.String)
			c.ExpiresAt = &t
		}
		if lastRotated.Valid {
			t, _ := time.Parse(time.RFC3339, lastRotated.String)
			c.LastRotated = &t
		}
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &c.Metadata)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a credential.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Rotate replaces a credential's secret in place and stamps last_rotated.
func (s *Store) Rotate(ctx context.Context, key string, newSecret []byte) error {
	if len(newSecret) > MaxSecretBytes {
		return ErrSecretTooLarge
	}
	cred, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	cred.Zero()
	cred.Secret = newSecret
	now := time.Now().UTC()
	cred.LastRotated = &now
	return s.Save(ctx, cred)
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
