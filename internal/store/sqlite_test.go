package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/usage"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "gateway.sqlite")
	s, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func seedUsage(t *testing.T, s *SQLiteStore, recs ...usage.Record) {
	t.Helper()
	for _, r := range recs {
		if err := s.Record(context.Background(), r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
}

func TestUsage_recordAndList(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	seedUsage(t, s,
		usage.Record{Timestamp: now.Add(-time.Minute), CallerID: "alice", ModelID: "gpt-4o", Provider: "openai",
			InputTokens: 10, OutputTokens: 20, CostUSD: 0.001, LatencyMs: 120, Success: true, RequestID: "r1"},
		usage.Record{Timestamp: now, CallerID: "bob", ModelID: "claude", Provider: "anthropic",
			InputTokens: 5, OutputTokens: 5, CostUSD: 0.0005, LatencyMs: 90, Success: false, RequestID: "r2"},
	)

	recs, err := s.ListUsage(context.Background(), UsageQuery{})
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].CallerID != "bob" {
		t.Error("records should be newest first")
	}
	got := recs[1]
	if got.ModelID != "gpt-4o" || got.InputTokens != 10 || !got.Success || got.RequestID != "r1" {
		t.Errorf("record round trip mismatch: %+v", got)
	}
	if !got.Timestamp.Equal(now.Add(-time.Minute)) {
		t.Errorf("timestamp = %s, want %s", got.Timestamp, now.Add(-time.Minute))
	}
}

func TestUsage_listFilters(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	seedUsage(t, s,
		usage.Record{Timestamp: now.Add(-2 * time.Hour), CallerID: "alice", ModelID: "m1", Provider: "p", Success: true},
		usage.Record{Timestamp: now.Add(-time.Hour), CallerID: "alice", ModelID: "m2", Provider: "p", Success: true},
		usage.Record{Timestamp: now, CallerID: "bob", ModelID: "m1", Provider: "p", Success: true},
	)

	ctx := context.Background()
	byCaller, _ := s.ListUsage(ctx, UsageQuery{CallerID: "alice"})
	if len(byCaller) != 2 {
		t.Errorf("caller filter = %d records, want 2", len(byCaller))
	}
	byModel, _ := s.ListUsage(ctx, UsageQuery{ModelID: "m1"})
	if len(byModel) != 2 {
		t.Errorf("model filter = %d records, want 2", len(byModel))
	}
	recent, _ := s.ListUsage(ctx, UsageQuery{Since: now.Add(-90 * time.Minute)})
	if len(recent) != 2 {
		t.Errorf("since filter = %d records, want 2", len(recent))
	}
	limited, _ := s.ListUsage(ctx, UsageQuery{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit = %d records, want 1", len(limited))
	}
}

func TestUsage_aggregateByCaller(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	seedUsage(t, s,
		usage.Record{Timestamp: now, CallerID: "alice", ModelID: "m1", Provider: "p",
			InputTokens: 10, OutputTokens: 20, CostUSD: 0.01, LatencyMs: 100, Success: true},
		usage.Record{Timestamp: now, CallerID: "alice", ModelID: "m2", Provider: "p",
			InputTokens: 30, OutputTokens: 40, CostUSD: 0.02, LatencyMs: 300, Success: false},
		usage.Record{Timestamp: now, CallerID: "bob", ModelID: "m1", Provider: "p",
			InputTokens: 1, OutputTokens: 1, CostUSD: 0.001, LatencyMs: 50, Success: true},
	)

	aggs, err := s.AggregateUsage(context.Background(), UsageQuery{}, false)
	if err != nil {
		t.Fatalf("AggregateUsage: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("aggregates = %d, want 2", len(aggs))
	}
	alice := aggs[0]
	if alice.CallerID != "alice" {
		t.Fatalf("first aggregate = %s, want alice (sorted)", alice.CallerID)
	}
	if alice.RequestCount != 2 || alice.ErrorCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", alice.RequestCount, alice.ErrorCount)
	}
	if alice.InputTokens != 40 || alice.OutputTokens != 60 {
		t.Errorf("tokens = %d/%d, want 40/60", alice.InputTokens, alice.OutputTokens)
	}
	if diff := alice.TotalCostUSD - 0.03; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("cost = %f, want 0.03", alice.TotalCostUSD)
	}
	if alice.AvgLatencyMs != 200 {
		t.Errorf("avg latency = %f, want 200", alice.AvgLatencyMs)
	}
}

func TestUsage_aggregateByModel(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	seedUsage(t, s,
		usage.Record{Timestamp: now, CallerID: "alice", ModelID: "m1", Provider: "p", Success: true},
		usage.Record{Timestamp: now, CallerID: "bob", ModelID: "m1", Provider: "p", Success: true},
		usage.Record{Timestamp: now, CallerID: "bob", ModelID: "m2", Provider: "p", Success: true},
	)

	aggs, err := s.AggregateUsage(context.Background(), UsageQuery{}, true)
	if err != nil {
		t.Fatalf("AggregateUsage: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("aggregates = %d, want 2", len(aggs))
	}
	if aggs[0].ModelID != "m1" || aggs[0].RequestCount != 2 {
		t.Errorf("m1 aggregate = %+v", aggs[0])
	}
	if aggs[1].ModelID != "m2" || aggs[1].RequestCount != 1 {
		t.Errorf("m2 aggregate = %+v", aggs[1])
	}
}

func TestAPIKeys_crud(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := APIKeyRecord{
		ID:        "k1",
		KeyHash:   "$2a$10$hash",
		KeyPrefix: "modelgate_abcd1234",
		Name:      "ci",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Enabled:   true,
	}
	if err := s.CreateAPIKey(ctx, rec); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got == nil || got.Name != "ci" || !got.Enabled {
		t.Errorf("GetAPIKey = %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %s, want %s", got.CreatedAt, rec.CreatedAt)
	}

	byPrefix, err := s.GetAPIKeysByPrefix(ctx, rec.KeyPrefix)
	if err != nil {
		t.Fatalf("GetAPIKeysByPrefix: %v", err)
	}
	if len(byPrefix) != 1 {
		t.Fatalf("prefix lookup = %d keys, want 1", len(byPrefix))
	}

	got.Enabled = false
	if err := s.UpdateAPIKey(ctx, *got); err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}
	byPrefix, _ = s.GetAPIKeysByPrefix(ctx, rec.KeyPrefix)
	if len(byPrefix) != 0 {
		t.Error("disabled keys must not come back from the prefix lookup")
	}

	if err := s.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	got, err = s.GetAPIKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetAPIKey after delete: %v", err)
	}
	if got != nil {
		t.Error("deleted key still present")
	}
}

func TestGetAPIKey_missingReturnsNil(t *testing.T) {
	s := testStore(t)
	got, err := s.GetAPIKey(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got != nil {
		t.Error("missing key should return nil, nil")
	}
}

func TestCatalog_saveAndLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	models := []registry.Model{
		{ID: "claude", Provider: "anthropic", InputPer1K: 0.003, OutputPer1K: 0.015,
			Capabilities: []string{"chat", "code"}, MaxContextTokens: 200000},
		{ID: "gpt-4o", Provider: "openai", InputPer1K: 0.0025, OutputPer1K: 0.01,
			Capabilities: []string{"chat", "vision"}, MaxContextTokens: 128000},
	}
	if err := s.SaveCatalog(ctx, models); err != nil {
		t.Fatalf("SaveCatalog: %v", err)
	}

	got, err := s.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("models = %d, want 2", len(got))
	}
	if got[0].ID != "claude" || got[1].ID != "gpt-4o" {
		t.Errorf("order = %s, %s, want sorted by ID", got[0].ID, got[1].ID)
	}
	if got[0].InputPer1K != 0.003 || got[0].MaxContextTokens != 200000 {
		t.Errorf("model round trip mismatch: %+v", got[0])
	}
	if len(got[1].Capabilities) != 2 || got[1].Capabilities[1] != "vision" {
		t.Errorf("capabilities = %v", got[1].Capabilities)
	}

	// A second save replaces the snapshot wholesale.
	if err := s.SaveCatalog(ctx, models[:1]); err != nil {
		t.Fatalf("SaveCatalog: %v", err)
	}
	got, _ = s.LoadCatalog(ctx)
	if len(got) != 1 {
		t.Errorf("models after replace = %d, want 1", len(got))
	}
}
