package health

import (
	"fmt"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/events"
)

func TestIsHealthy_unknownModel(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	if !tr.IsHealthy("never-seen") {
		t.Error("model with no observations should be healthy")
	}
}

func TestIsHealthy_failureRateAboveThreshold(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	// 3 failures, 1 success: rate 0.75 > 0.5.
	tr.RecordError("m", 100, "boom")
	tr.RecordError("m", 100, "boom")
	tr.RecordError("m", 100, "boom")
	tr.RecordOutcome("m", true, 100)

	if tr.IsHealthy("m") {
		t.Error("failure rate 0.75 should be unhealthy")
	}
}

func TestIsHealthy_atThresholdStaysHealthy(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.RecordError("m", 100, "boom")
	tr.RecordOutcome("m", true, 100)

	if !tr.IsHealthy("m") {
		t.Error("failure rate exactly at threshold should stay healthy")
	}
}

func TestIsHealthy_recoversAsWindowRefills(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 4
	tr := NewTracker(cfg)

	for i := 0; i < 4; i++ {
		tr.RecordError("m", 50, "down")
	}
	if tr.IsHealthy("m") {
		t.Fatal("all failures should be unhealthy")
	}

	// Window size 4: successes push the failures out.
	for i := 0; i < 4; i++ {
		tr.RecordOutcome("m", true, 50)
	}
	if !tr.IsHealthy("m") {
		t.Error("window full of successes should be healthy again")
	}
}

func TestIsHealthy_staleOutcomesIgnored(t *testing.T) {
	now := time.Now()
	clock := now
	tr := NewTracker(DefaultConfig(), WithNowFunc(func() time.Time { return clock }))

	for i := 0; i < 5; i++ {
		tr.RecordError("m", 50, "down")
	}
	if tr.IsHealthy("m") {
		t.Fatal("recent failures should be unhealthy")
	}

	// Advance past the recency window: stale failures stop counting.
	clock = now.Add(DefaultConfig().RecencyWindow + time.Second)
	if !tr.IsHealthy("m") {
		t.Error("stale failures should not keep a model unhealthy")
	}
}

func TestStats_countsAndRate(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.RecordOutcome("m", true, 100)
	tr.RecordOutcome("m", true, 100)
	tr.RecordError("m", 300, "timeout")

	s := tr.Stats("m")
	if s.Successes != 2 || s.Failures != 1 {
		t.Errorf("counts = %d/%d, want 2/1", s.Successes, s.Failures)
	}
	if want := 1.0 / 3.0; s.FailureRate != want {
		t.Errorf("FailureRate = %f, want %f", s.FailureRate, want)
	}
	if s.LastError != "timeout" {
		t.Errorf("LastError = %q, want %q", s.LastError, "timeout")
	}
}

func TestAvgLatency_exponentiallyWeighted(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.RecordOutcome("m", true, 100)
	if got := tr.AvgLatencyMs("m"); got != 100 {
		t.Fatalf("first observation AvgLatencyMs = %f, want 100", got)
	}
	tr.RecordOutcome("m", true, 200)
	if got, want := tr.AvgLatencyMs("m"), 100*0.9+200*0.1; got != want {
		t.Errorf("AvgLatencyMs = %f, want %f", got, want)
	}
}

func TestHealthChange_publishesEvent(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(8)
	defer bus.Unsubscribe(sub)

	tr := NewTracker(DefaultConfig(), WithEventBus(bus))
	tr.RecordError("m", 50, "down")

	select {
	case ev := <-sub.C:
		if ev.Type != events.EventHealthChange {
			t.Errorf("event type = %s, want %s", ev.Type, events.EventHealthChange)
		}
		if ev.ModelID != "m" || ev.Healthy {
			t.Errorf("event = %+v, want unhealthy for m", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no health change event published")
	}
}

func TestTracker_concurrentRecords(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			id := fmt.Sprintf("m%d", g%2)
			for i := 0; i < 100; i++ {
				tr.RecordOutcome(id, i%3 != 0, float64(i))
				tr.IsHealthy(id)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
}
