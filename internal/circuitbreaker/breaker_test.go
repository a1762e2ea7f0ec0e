package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_tripsAtThreshold(t *testing.T) {
	b := New(WithThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	if b.CurrentState() != Closed {
		t.Fatal("breaker tripped below threshold")
	}
	b.RecordFailure()
	if b.CurrentState() != Open {
		t.Errorf("state = %s, want open after 3 failures", b.CurrentState())
	}
	if b.Allow() {
		t.Error("open breaker should not allow requests before cooldown")
	}
}

func TestBreaker_successResetsCounter(t *testing.T) {
	b := New(WithThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.CurrentState() != Closed {
		t.Error("non-consecutive failures should not trip the breaker")
	}
}

func TestBreaker_cooldownAllowsSingleProbe(t *testing.T) {
	now := time.Now()
	clock := now
	b := New(WithThreshold(1), WithCooldown(30*time.Second),
		WithNowFunc(func() time.Time { return clock }))

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("open breaker allowed a request")
	}

	clock = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("cooldown elapsed, probe should be allowed")
	}
	if b.CurrentState() != HalfOpen {
		t.Errorf("state = %s, want half-open", b.CurrentState())
	}
	if b.Allow() {
		t.Error("only one probe at a time in half-open")
	}
}

func TestBreaker_probeSuccessCloses(t *testing.T) {
	now := time.Now()
	clock := now
	b := New(WithThreshold(1), WithCooldown(time.Second),
		WithNowFunc(func() time.Time { return clock }))

	b.RecordFailure()
	clock = now.Add(2 * time.Second)
	b.Allow()
	b.RecordSuccess()

	if b.CurrentState() != Closed {
		t.Errorf("state = %s, want closed after successful probe", b.CurrentState())
	}
	if !b.Allow() {
		t.Error("closed breaker should allow requests")
	}
}

func TestBreaker_probeFailureReopens(t *testing.T) {
	now := time.Now()
	clock := now
	b := New(WithThreshold(1), WithCooldown(time.Second),
		WithNowFunc(func() time.Time { return clock }))

	b.RecordFailure()
	clock = now.Add(2 * time.Second)
	b.Allow()
	b.RecordFailure()

	if b.CurrentState() != Open {
		t.Errorf("state = %s, want open after failed probe", b.CurrentState())
	}
	if b.Allow() {
		t.Error("reopened breaker should block until the next cooldown")
	}

	clock = now.Add(4 * time.Second)
	if !b.Allow() {
		t.Error("second cooldown should allow another probe")
	}
}

func TestBreaker_stateChangeCallback(t *testing.T) {
	var transitions []string
	b := New(WithThreshold(1), WithOnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}), WithNowFunc(time.Now), WithCooldown(time.Nanosecond))

	b.RecordFailure()
	time.Sleep(time.Millisecond)
	b.Allow()
	b.RecordSuccess()

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}
