package health

import (
	"context"
	"testing"
	"time"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/registry"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         50 * time.Millisecond,
	}
}

func TestInMemoryBreakerOpensAfterThreshold(t *testing.T) {
	b := NewInMemory(testConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b.RecordFailure(ctx)
	}
	if b.State(ctx) != StateClosed {
		t.Fatal("opened before threshold")
	}

	b.RecordFailure(ctx)
	if b.State(ctx) != StateOpen {
		t.Fatal("did not open at threshold")
	}
	if err := b.Allow(ctx); err == nil {
		t.Error("open breaker allowed a request")
	}
}

func TestInMemoryBreakerRecovers(t *testing.T) {
	b := NewInMemory(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx)
	}
	time.Sleep(60 * time.Millisecond)

	// Cooldown elapsed: probe allowed, state moves to half-open.
	if err := b.Allow(ctx); err != nil {
		t.Fatalf("probe not allowed after cooldown: %v", err)
	}
	if b.State(ctx) != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State(ctx))
	}

	b.RecordSuccess(ctx)
	b.RecordSuccess(ctx)
	if b.State(ctx) != StateClosed {
		t.Errorf("state = %s, want closed after success threshold", b.State(ctx))
	}
}

func TestInMemoryBreakerReopensFromHalfOpen(t *testing.T) {
	b := NewInMemory(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx)
	}
	time.Sleep(60 * time.Millisecond)
	b.Allow(ctx)

	b.RecordFailure(ctx)
	if b.State(ctx) != StateOpen {
		t.Errorf("state = %s, want reopened", b.State(ctx))
	}
}

func TestInMemoryBreakerSuccessResetsFailures(t *testing.T) {
	b := NewInMemory(testConfig())
	ctx := context.Background()

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)
	b.RecordSuccess(ctx)
	b.RecordFailure(ctx)
	b.RecordFailure(ctx)
	if b.State(ctx) != StateClosed {
		t.Error("intervening success did not reset the failure count")
	}
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]*registry.ProviderProfile{
		{ID: "p1", Protocol: registry.ProtocolOpenAI, Endpoint: "http://p1.example"},
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func TestMonitorSyncsRegistryHealth(t *testing.T) {
	reg := newTestRegistry(t)
	m := NewMonitor(reg, testConfig())
	ctx := context.Background()

	profile, _ := reg.Get("p1")
	if !profile.Healthy() {
		t.Fatal("profile should start healthy")
	}

	for i := 0; i < 3; i++ {
		m.RecordFailure(ctx, "p1")
	}
	if profile.Healthy() {
		t.Error("profile still healthy after breaker opened")
	}

	time.Sleep(60 * time.Millisecond)
	m.RecordSuccess(ctx, "p1")
	m.RecordSuccess(ctx, "p1")
	if !profile.Healthy() {
		t.Error("profile not restored after breaker closed")
	}
}

func TestMonitorStates(t *testing.T) {
	reg := newTestRegistry(t)
	m := NewMonitor(reg, testConfig())
	ctx := context.Background()

	m.RecordSuccess(ctx, "p1")
	states := m.States(ctx)
	if states["p1"] != "closed" {
		t.Errorf("states = %v", states)
	}
}
