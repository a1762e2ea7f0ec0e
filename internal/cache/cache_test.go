package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/dispatch"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func baseRequest() dispatch.Request {
	return dispatch.Request{
		Messages: []dispatch.Message{{Role: "user", Content: "hello"}},
	}
}

func TestKey_deterministic(t *testing.T) {
	req := baseRequest()
	k1 := Key("gpt-4o", req, "caller")
	k2 := Key("gpt-4o", req, "caller")
	if k1 != k2 {
		t.Errorf("identical requests hashed differently: %s vs %s", k1, k2)
	}
	if len(k1) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(k1))
	}
}

func TestKey_separatesCallers(t *testing.T) {
	req := baseRequest()
	if Key("gpt-4o", req, "a") == Key("gpt-4o", req, "b") {
		t.Error("different callers must not share cache keys")
	}
}

func TestKey_sensitiveToParameters(t *testing.T) {
	base := baseRequest()
	baseKey := Key("gpt-4o", base, "caller")

	variants := map[string]dispatch.Request{
		"model":       base,
		"temperature": {Messages: base.Messages, Temperature: floatPtr(0.7)},
		"max_tokens":  {Messages: base.Messages, MaxTokens: intPtr(256)},
		"top_p":       {Messages: base.Messages, TopP: floatPtr(0.9)},
		"messages":    {Messages: []dispatch.Message{{Role: "user", Content: "goodbye"}}},
	}
	for name, req := range variants {
		model := "gpt-4o"
		if name == "model" {
			model = "gpt-4o-mini"
		}
		if Key(model, req, "caller") == baseKey {
			t.Errorf("changing %s did not change the key", name)
		}
	}
}

func TestEligible(t *testing.T) {
	cases := []struct {
		name   string
		req    dispatch.Request
		optIn  bool
		expect bool
	}{
		{"deterministic", baseRequest(), false, true},
		{"zero temperature", dispatch.Request{Messages: baseRequest().Messages, Temperature: floatPtr(0)}, false, true},
		{"sampled without opt-in", dispatch.Request{Messages: baseRequest().Messages, Temperature: floatPtr(0.7)}, false, false},
		{"sampled with opt-in", dispatch.Request{Messages: baseRequest().Messages, Temperature: floatPtr(0.7)}, true, true},
		{"streaming", dispatch.Request{Messages: baseRequest().Messages, Stream: true}, true, false},
	}
	for _, tc := range cases {
		if got := Eligible(tc.req, tc.optIn); got != tc.expect {
			t.Errorf("%s: Eligible = %v, want %v", tc.name, got, tc.expect)
		}
	}
}

func TestMemoryStore_roundTrip(t *testing.T) {
	s := NewMemory(10)
	defer s.Stop()

	ctx := context.Background()
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("empty store Get = %v, want ErrMiss", err)
	}
	if err := s.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want %q", got, "v")
	}
}

func TestMemoryStore_ttlExpiry(t *testing.T) {
	now := time.Now()
	clock := now
	s := NewMemory(10, WithClock(func() time.Time { return clock }))
	defer s.Stop()

	ctx := context.Background()
	s.Put(ctx, "k", []byte("v"), time.Minute)

	clock = now.Add(30 * time.Second)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("entry inside TTL should hit: %v", err)
	}

	clock = now.Add(time.Minute + time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expired entry Get = %v, want ErrMiss", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want expired entry dropped on lookup", s.Len())
	}
}

func TestMemoryStore_evictsOldestAtCapacity(t *testing.T) {
	now := time.Now()
	clock := now
	s := NewMemory(2, WithClock(func() time.Time { return clock }))
	defer s.Stop()

	ctx := context.Background()
	s.Put(ctx, "a", []byte("1"), time.Hour)
	clock = now.Add(time.Second)
	s.Put(ctx, "b", []byte("2"), time.Hour)
	clock = now.Add(2 * time.Second)
	s.Put(ctx, "c", []byte("3"), time.Hour)

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Error("oldest entry should have been evicted")
	}
	if _, err := s.Get(ctx, "c"); err != nil {
		t.Errorf("newest entry lost: %v", err)
	}
}

func TestMemoryStore_getCopiesValue(t *testing.T) {
	s := NewMemory(10)
	defer s.Stop()

	ctx := context.Background()
	s.Put(ctx, "k", []byte("abc"), time.Minute)
	got, _ := s.Get(ctx, "k")
	got[0] = 'x'

	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Error("mutating a returned value must not corrupt the stored entry")
	}
}
