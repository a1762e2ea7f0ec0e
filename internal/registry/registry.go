// Package registry maintains the catalog of addressable models and their
// declared capabilities, costs, and context limits. The catalog is replaced
// wholesale on refresh so readers never observe a partially updated view.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Model describes one addressable model. Immutable once loaded; the whole
// catalog is swapped on refresh.
type Model struct {
	ID               string   `json:"id"`
	Provider         string   `json:"provider"`
	InputPer1K       float64  `json:"input_per_1k"`
	OutputPer1K      float64  `json:"output_per_1k"`
	Capabilities     []string `json:"capabilities"`
	MaxContextTokens int      `json:"max_context_tokens"`
}

// HasCapability reports whether the model declares the given capability tag.
func (m Model) HasCapability(tag string) bool {
	for _, c := range m.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Filter narrows List results. Zero-value fields are ignored.
type Filter struct {
	Capability string
	Provider   string
}

// ErrModelNotFound is returned by Get for unknown model IDs.
var ErrModelNotFound = errors.New("model not found")

// RefreshError wraps an upstream failure during Refresh. The previous catalog
// is retained when it occurs.
type RefreshError struct {
	Cause error
}

func (e *RefreshError) Error() string { return fmt.Sprintf("registry refresh failed: %v", e.Cause) }
func (e *RefreshError) Unwrap() error { return e.Cause }

// Source provides the model listing on refresh. Implementations may call a
// provider listing endpoint or read static configuration.
type Source interface {
	FetchModels(ctx context.Context) ([]Model, error)
}

// Registry is the in-memory model catalog.
type Registry struct {
	source Source

	mu          sync.RWMutex
	models      map[string]Model
	refreshedAt time.Time
}

// New creates a registry backed by the given source. The catalog is empty
// until the first Refresh or Load.
func New(source Source) *Registry {
	return &Registry{
		source: source,
		models: make(map[string]Model),
	}
}

// Load replaces the catalog with the given models without consulting the
// source. Used to seed from a persisted snapshot at startup. Duplicate IDs
// are rejected.
func (r *Registry) Load(models []Model) error {
	next, err := index(models)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.models = next
	r.refreshedAt = time.Now().UTC()
	r.mu.Unlock()
	return nil
}

// Refresh reloads the catalog from the source. On source error the existing
// catalog is left untouched and a *RefreshError is returned; retry policy is
// the caller's decision.
func (r *Registry) Refresh(ctx context.Context) error {
	models, err := r.source.FetchModels(ctx)
	if err != nil {
		return &RefreshError{Cause: err}
	}
	next, err := index(models)
	if err != nil {
		return &RefreshError{Cause: err}
	}
	r.mu.Lock()
	r.models = next
	r.refreshedAt = time.Now().UTC()
	r.mu.Unlock()
	return nil
}

// Get returns the model with the given ID, or ErrModelNotFound.
func (r *Registry) Get(id string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return Model{}, ErrModelNotFound
	}
	return m, nil
}

// List returns all models matching the filter, sorted by ID for a stable
// ordering.
func (r *Registry) List(f Filter) []Model {
	r.mu.RLock()
	models := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		if f.Provider != "" && m.Provider != f.Provider {
			continue
		}
		if f.Capability != "" && !m.HasCapability(f.Capability) {
			continue
		}
		models = append(models, m)
	}
	r.mu.RUnlock()

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models
}

// Len returns the number of models in the catalog.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// RefreshedAt returns the time of the last successful catalog swap.
func (r *Registry) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}

func index(models []Model) (map[string]Model, error) {
	next := make(map[string]Model, len(models))
	for _, m := range models {
		if m.ID == "" {
			return nil, errors.New("model with empty id")
		}
		if _, dup := next[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", m.ID)
		}
		next[m.ID] = m
	}
	return next, nil
}
