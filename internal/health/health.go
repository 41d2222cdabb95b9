// Package health tracks per-provider availability with a breaker per
// provider and mirrors the result into the routing registry, so the router
// skips providers whose breaker is open.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: provider unhealthy, skipped by routing
//   - Half-Open: cooldown elapsed, probing with live traffic
//
// Implementations:
//   - InMemoryBreaker: single-instance, uses sync.RWMutex
//   - RedisBreaker: distributed, uses Redis with Lua scripts for atomicity
package health

import (
	"context"
	"sync"
	"time"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/metrics"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/registry"
)

// Breaker is the per-provider availability tracker. Both in-memory and
// distributed (Redis) implementations satisfy this interface.
type Breaker interface {
	// Allow returns nil if a request may go to the provider, or
	// ErrProviderUnhealthy while the breaker is open.
	Allow(ctx context.Context) error

	// RecordSuccess records a successful request. In half-open state enough
	// successes close the breaker.
	RecordSuccess(ctx context.Context)

	// RecordFailure records a failed request. Enough failures open the
	// breaker.
	RecordFailure(ctx context.Context)

	State(ctx context.Context) State
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config defines breaker behavior.
type Config struct {
	FailureThreshold int           // failures before opening
	SuccessThreshold int           // successes to close from half-open
	Cooldown         time.Duration // time before probing again
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// InMemoryBreaker is suitable for single-instance deployments.
type InMemoryBreaker struct {
	mu          sync.RWMutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	config      Config
}

func NewInMemory(cfg Config) *InMemoryBreaker {
	return &InMemoryBreaker{state: StateClosed, config: cfg}
}

func (b *InMemoryBreaker) Allow(ctx context.Context) error {
	b.mu.RLock()
	state := b.state
	lastFailure := b.lastFailure
	b.mu.RUnlock()

	switch state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(lastFailure) > b.config.Cooldown {
			b.mu.Lock()
			if b.state == StateOpen {
				b.state = StateHalfOpen
				b.successes = 0
			}
			b.mu.Unlock()
			return nil
		}
		return domain.ErrProviderUnhealthy
	case StateHalfOpen:
		return nil
	}

	return nil
}

func (b *InMemoryBreaker) RecordSuccess(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *InMemoryBreaker) RecordFailure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.successes = 0
	}
}

func (b *InMemoryBreaker) State(ctx context.Context) State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *InMemoryBreaker) Failures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures
}

// Monitor owns one breaker per provider and keeps the registry's health
// flags in sync, so the router never has to consult breakers directly.
type Monitor struct {
	mu       sync.RWMutex
	breakers map[string]Breaker
	reg      *registry.Registry
	config   Config
	factory  func(providerID string) Breaker
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithRedis backs the breakers with Redis so state is shared across gateway
// instances.
func WithRedis(redisURL string) MonitorOption {
	return func(m *Monitor) {
		m.factory = func(providerID string) Breaker {
			b, err := NewRedis(redisURL, providerID, m.config)
			if err != nil {
				// Fall back to in-memory if Redis is unreachable.
				return NewInMemory(m.config)
			}
			return b
		}
	}
}

// NewMonitor creates a monitor over the registry's providers. By default
// breakers are in-memory; use WithRedis for distributed state.
func NewMonitor(reg *registry.Registry, cfg Config, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		breakers: make(map[string]Breaker),
		reg:      reg,
		config:   cfg,
		factory: func(providerID string) Breaker {
			return NewInMemory(cfg)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) breaker(providerID string) Breaker {
	m.mu.RLock()
	b, ok := m.breakers[providerID]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.breakers[providerID]; ok {
		return existing
	}
	b = m.factory(providerID)
	m.breakers[providerID] = b
	return b
}

// RecordSuccess marks a completed request and restores the provider's
// routing eligibility if the breaker closed.
func (m *Monitor) RecordSuccess(ctx context.Context, providerID string) {
	b := m.breaker(providerID)
	b.RecordSuccess(ctx)
	m.sync(ctx, providerID, b)
}

// RecordFailure marks a failed request and withdraws the provider from
// routing if the breaker opened.
func (m *Monitor) RecordFailure(ctx context.Context, providerID string) {
	b := m.breaker(providerID)
	b.RecordFailure(ctx)
	m.sync(ctx, providerID, b)
}

// Run re-checks open breakers on an interval so a provider whose cooldown
// elapsed becomes routable again even with no traffic probing it.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			ids := make([]string, 0, len(m.breakers))
			for id := range m.breakers {
				ids = append(ids, id)
			}
			m.mu.RUnlock()
			for _, id := range ids {
				b := m.breaker(id)
				// Allow drives the open to half-open transition.
				b.Allow(ctx)
				m.sync(ctx, id, b)
			}
		}
	}
}

// States returns the current state of every tracked breaker.
func (m *Monitor) States(ctx context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]string, len(m.breakers))
	for id, b := range m.breakers {
		states[id] = b.State(ctx).String()
	}
	return states
}

func (m *Monitor) sync(ctx context.Context, providerID string, b Breaker) {
	healthy := b.State(ctx) != StateOpen
	if profile, ok := m.reg.Get(providerID); ok {
		profile.SetHealthy(healthy)
	}
	metrics.SetProviderHealth(providerID, healthy)
}
