// Package cache stores completion responses keyed by a deterministic hash of
// the normalized request plus caller identity. Lookups are bypassed for
// streaming requests, and backend failures degrade to cache misses so an
// outage never blocks the request path.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelgate/modelgate/internal/dispatch"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is the response cache contract. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// DefaultTTL is the cache lifetime applied when a request class does not
// override it.
const DefaultTTL = time.Hour

// keyEnvelope is the canonical serialization hashed into a cache key. Field
// order is fixed by the struct, message order is preserved, and absent
// sampling parameters marshal as null, so identical requests always produce
// identical keys.
type keyEnvelope struct {
	Model       string             `json:"model"`
	Messages    []dispatch.Message `json:"messages"`
	Temperature *float64           `json:"temperature"`
	MaxTokens   *int               `json:"max_tokens"`
	TopP        *float64           `json:"top_p"`
	CallerID    string             `json:"caller_id"`
}

// Key computes the deterministic SHA-256 cache key for a request and caller.
func Key(model string, req dispatch.Request, callerID string) string {
	env := keyEnvelope{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		CallerID:    callerID,
	}
	b, _ := json.Marshal(env)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Eligible reports whether a request may be served from or written to the
// cache. Streaming requests never are. Nondeterministic sampling
// (temperature > 0) is cacheable only when the caller opted in, since a
// cached response would skip fresh sampling.
func Eligible(req dispatch.Request, callerOptIn bool) bool {
	if req.Stream {
		return false
	}
	if req.Temperature == nil || *req.Temperature == 0 {
		return true
	}
	return callerOptIn
}
