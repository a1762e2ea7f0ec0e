package apikey

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/store"
)

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "keys.sqlite")
	s, err := store.NewSQLite(dsn)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager(testStore(t))
	ctx := context.Background()

	plaintext, rec, err := m.Generate(ctx, "ci-bot", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		t.Errorf("key %q missing prefix %q", plaintext, KeyPrefix)
	}
	if rec.Name != "ci-bot" || !rec.Enabled {
		t.Errorf("record = %+v", rec)
	}

	got, err := m.Validate(ctx, plaintext)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("validated ID = %s, want %s", got.ID, rec.ID)
	}
	if got.LastUsedAt == nil {
		t.Error("validation should stamp LastUsedAt")
	}
}

func TestValidate_rejectsUnknownKey(t *testing.T) {
	m := NewManager(testStore(t))
	ctx := context.Background()

	if _, _, err := m.Generate(ctx, "real", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	fake := KeyPrefix + strings.Repeat("ab", 32)
	if _, err := m.Validate(ctx, fake); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate = %v, want ErrInvalidKey", err)
	}
	if _, err := m.Validate(ctx, "short"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short key Validate = %v, want ErrInvalidKey", err)
	}
}

func TestValidate_expiredKey(t *testing.T) {
	m := NewManager(testStore(t))
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	plaintext, _, err := m.Generate(ctx, "expired", &past)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if _, err := m.Validate(ctx, plaintext); !errors.Is(err, ErrKeyExpired) {
		t.Errorf("Validate = %v, want ErrKeyExpired", err)
	}
}

func TestRotate_oldKeyStopsWorking(t *testing.T) {
	m := NewManager(testStore(t))
	ctx := context.Background()

	oldKey, rec, err := m.Generate(ctx, "svc", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// Warm the cache so rotation has something to invalidate.
	if _, err := m.Validate(ctx, oldKey); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	newKey, err := m.Rotate(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if newKey == oldKey {
		t.Fatal("rotation returned the same key")
	}

	if _, err := m.Validate(ctx, oldKey); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("old key Validate = %v, want ErrInvalidKey", err)
	}
	got, err := m.Validate(ctx, newKey)
	if err != nil {
		t.Fatalf("new key Validate: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("rotated key resolves to %s, want %s", got.ID, rec.ID)
	}
}

func TestRevoke_keyStopsValidating(t *testing.T) {
	m := NewManager(testStore(t))
	ctx := context.Background()

	plaintext, rec, err := m.Generate(ctx, "temp", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := m.Validate(ctx, plaintext); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := m.Revoke(ctx, rec.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Validate(ctx, plaintext); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("revoked key Validate = %v, want ErrInvalidKey", err)
	}
}

func TestRotate_unknownID(t *testing.T) {
	m := NewManager(testStore(t))
	if _, err := m.Rotate(context.Background(), "nope"); err == nil {
		t.Error("rotating an unknown key should fail")
	}
}
