// Package store defines the persistence contract and its SQLite
// implementation. Everything durable lives here: usage records, API keys,
// and the last-known model catalog snapshot.
package store

import (
	"context"
	"time"

	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/usage"
)

// UsageQuery filters usage reads. Zero values mean "no constraint".
type UsageQuery struct {
	CallerID string
	ModelID  string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// APIKeyRecord is the stored form of an issued API key. KeyHash is a bcrypt
// hash; the plaintext key is shown once at creation and never stored.
type APIKeyRecord struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Enabled    bool       `json:"enabled"`
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use. It embeds usage.Recorder so the dispatcher can write
// records directly.
type Store interface {
	usage.Recorder

	Migrate(ctx context.Context) error
	Close() error

	// Usage reads.
	ListUsage(ctx context.Context, q UsageQuery) ([]usage.Record, error)
	AggregateUsage(ctx context.Context, q UsageQuery, groupByModel bool) ([]usage.Aggregate, error)

	// API keys.
	CreateAPIKey(ctx context.Context, key APIKeyRecord) error
	GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error)
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKeyRecord, error)
	ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error)
	UpdateAPIKey(ctx context.Context, key APIKeyRecord) error
	DeleteAPIKey(ctx context.Context, id string) error

	// Model catalog snapshot, used to seed the registry on startup when the
	// upstream sources are unreachable.
	SaveCatalog(ctx context.Context, models []registry.Model) error
	LoadCatalog(ctx context.Context) ([]registry.Model, error)
}
