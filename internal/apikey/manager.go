// Package apikey issues and validates gateway API keys. Keys are random,
// prefixed, bcrypt-hashed at rest, and shown in plaintext exactly once.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/modelgate/modelgate/internal/store"
)

// hashForBcrypt pre-hashes a key with SHA-256 to stay within bcrypt's
// 72-byte limit.
func hashForBcrypt(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return []byte(hex.EncodeToString(h[:]))
}

const (
	// KeyPrefix starts every issued key, so callers and logs can recognize
	// gateway keys without revealing them.
	KeyPrefix = "modelgate_"

	keyRandBytes = 32
	bcryptCost   = 10
	cacheTTL     = 5 * time.Minute
)

// ErrInvalidKey is returned when no stored key matches.
var ErrInvalidKey = errors.New("invalid api key")

// ErrKeyExpired is returned when the matching key is past its expiry.
var ErrKeyExpired = errors.New("api key expired")

type cachedKey struct {
	record    *store.APIKeyRecord
	expiresAt time.Time
}

// Manager handles API key generation, validation, and rotation.
type Manager struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]cachedKey // plaintext key -> cached record
}

// NewManager creates a new API key manager.
func NewManager(s store.Store) *Manager {
	return &Manager{
		store: s,
		cache: make(map[string]cachedKey),
	}
}

func newPlaintext() (string, error) {
	raw := make([]byte, keyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(raw), nil
}

// lookupPrefix is the stored prefix used to narrow validation to a handful
// of candidate records instead of bcrypt-comparing every key.
func lookupPrefix(plaintext string) string {
	return plaintext[:len(KeyPrefix)+8]
}

// Generate creates a new API key, stores its bcrypt hash, and returns the
// plaintext key exactly once.
func (m *Manager) Generate(ctx context.Context, name string, expiresAt *time.Time) (string, *store.APIKeyRecord, error) {
	plaintext, err := newPlaintext()
	if err != nil {
		return "", nil, err
	}

	hash, err := bcrypt.GenerateFromPassword(hashForBcrypt(plaintext), bcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("bcrypt hash: %w", err)
	}

	rec := store.APIKeyRecord{
		ID:        hex.EncodeToString([]byte(plaintext[len(KeyPrefix) : len(KeyPrefix)+8])),
		KeyHash:   string(hash),
		KeyPrefix: lookupPrefix(plaintext),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		Enabled:   true,
	}

	if err := m.store.CreateAPIKey(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("store api key: %w", err)
	}
	return plaintext, &rec, nil
}

// Validate checks a plaintext API key and returns the associated record.
// A short TTL cache avoids bcrypt on every request.
func (m *Manager) Validate(ctx context.Context, keyString string) (*store.APIKeyRecord, error) {
	if len(keyString) < len(KeyPrefix)+8 {
		return nil, ErrInvalidKey
	}

	m.mu.RLock()
	if cached, ok := m.cache[keyString]; ok && time.Now().Before(cached.expiresAt) {
		m.mu.RUnlock()
		return cached.record, nil
	}
	m.mu.RUnlock()

	// Narrow by stored prefix, then bcrypt-compare the candidates.
	keys, err := m.store.GetAPIKeysByPrefix(ctx, lookupPrefix(keyString))
	if err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}

	for i := range keys {
		k := &keys[i]
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), hashForBcrypt(keyString)) != nil {
			continue
		}
		if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
			return nil, ErrKeyExpired
		}
		now := time.Now().UTC()
		k.LastUsedAt = &now
		_ = m.store.UpdateAPIKey(ctx, *k)

		m.mu.Lock()
		m.cache[keyString] = cachedKey{
			record:    k,
			expiresAt: time.Now().Add(cacheTTL),
		}
		m.mu.Unlock()

		return k, nil
	}

	return nil, ErrInvalidKey
}

// Rotate generates a new key for an existing record, replacing the hash.
// Returns the new plaintext key exactly once.
func (m *Manager) Rotate(ctx context.Context, id string) (string, error) {
	rec, err := m.store.GetAPIKey(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get key: %w", err)
	}
	if rec == nil {
		return "", errors.New("api key not found")
	}

	plaintext, err := newPlaintext()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword(hashForBcrypt(plaintext), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}

	rec.KeyHash = string(hash)
	rec.KeyPrefix = lookupPrefix(plaintext)

	if err := m.store.UpdateAPIKey(ctx, *rec); err != nil {
		return "", fmt.Errorf("update key: %w", err)
	}

	// Drop cache entries for the replaced key.
	m.mu.Lock()
	for k, v := range m.cache {
		if v.record.ID == id {
			delete(m.cache, k)
		}
	}
	m.mu.Unlock()

	return plaintext, nil
}

// Revoke disables a key immediately.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	rec, err := m.store.GetAPIKey(ctx, id)
	if err != nil {
		return fmt.Errorf("get key: %w", err)
	}
	if rec == nil {
		return errors.New("api key not found")
	}
	rec.Enabled = false
	if err := m.store.UpdateAPIKey(ctx, *rec); err != nil {
		return fmt.Errorf("update key: %w", err)
	}

	m.mu.Lock()
	for k, v := range m.cache {
		if v.record.ID == id {
			delete(m.cache, k)
		}
	}
	m.mu.Unlock()
	return nil
}
