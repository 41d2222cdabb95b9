// Package registry holds the provider profiles and routing table loaded once
// at startup. Profiles are immutable afterwards except for the health flag,
// which is written by the health monitor and only read by the router.
package registry

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Protocol identifies the wire protocol a provider speaks.
type Protocol string

const (
	ProtocolOpenAI        Protocol = "openai"
	ProtocolGemini        Protocol = "gemini"
	ProtocolCodeWhisperer Protocol = "codewhisperer"
)

// ProviderProfile is the static descriptor of one backend. Weight groups
// providers into priority tiers: lower weight is tried first.
type ProviderProfile struct {
	ID       string   `json:"id"`
	Protocol Protocol `json:"protocol"`
	Endpoint string   `json:"endpoint"`
	APIKey   string   `json:"api_key"`
	Weight   int      `json:"weight"`
	Models   []string `json:"models"`

	healthy atomic.Bool
}

// Healthy reads the health flag. The request path never writes it.
func (p *ProviderProfile) Healthy() bool { return p.healthy.Load() }

// SetHealthy is called by the health monitor only.
func (p *ProviderProfile) SetHealthy(v bool) { p.healthy.Store(v) }

// Target is one (provider, model) pair a category can route to.
type Target struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// RoutingTable maps categories to their ordered target pools plus the
// classification rules the router applies.
type RoutingTable struct {
	Routes map[string][]Target `json:"routes"`

	// Classification rules. Patterns are case-insensitive substrings
	// matched against the requested model name.
	BackgroundPatterns   []string `json:"background_patterns"`
	ThinkingPatterns     []string `json:"thinking_patterns"`
	SearchToolNames      []string `json:"search_tool_names"`
	LongContextThreshold int      `json:"long_context_threshold"`
}

// Registry is the read-only provider set.
type Registry struct {
	profiles []*ProviderProfile
	byID     map[string]*ProviderProfile
}

// New builds a registry from profiles. Every profile starts healthy.
func New(profiles []*ProviderProfile) (*Registry, error) {
	byID := make(map[string]*ProviderProfile, len(profiles))
	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("provider profile missing id")
		}
		switch p.Protocol {
		case ProtocolOpenAI, ProtocolGemini, ProtocolCodeWhisperer:
		default:
			return nil, fmt.Errorf("provider %s: unknown protocol %q", p.ID, p.Protocol)
		}
		if p.Endpoint == "" {
			return nil, fmt.Errorf("provider %s: missing endpoint", p.ID)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %s", p.ID)
		}
		p.SetHealthy(true)
		byID[p.ID] = p
	}
	return &Registry{profiles: profiles, byID: byID}, nil
}

// Get returns the profile for id.
func (r *Registry) Get(id string) (*ProviderProfile, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Profiles returns all profiles in load order.
func (r *Registry) Profiles() []*ProviderProfile { return r.profiles }

type fileConfig struct {
	Providers []*ProviderProfile `json:"providers"`
	Routing   RoutingTable       `json:"routing"`
}

// Load parses the routing config document produced at startup. The document
// is read once; nothing re-reads or mutates it afterwards.
func Load(data []byte) (*Registry, *RoutingTable, error) {
	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parse routing config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		return nil, nil, fmt.Errorf("routing config has no providers")
	}
	reg, err := New(cfg.Providers)
	if err != nil {
		return nil, nil, err
	}
	table := cfg.Routing
	if table.Routes == nil {
		return nil, nil, fmt.Errorf("routing config has no routes")
	}
	if len(table.Routes["default"]) == 0 {
		return nil, nil, fmt.Errorf("routing config missing default route")
	}
	for category, targets := range table.Routes {
		for _, t := range targets {
			if _, ok := reg.Get(t.Provider); !ok {
				return nil, nil, fmt.Errorf("route %s references unknown provider %s", category, t.Provider)
			}
		}
	}
	if table.LongContextThreshold <= 0 {
		table.LongContextThreshold = 60000
	}
	return reg, &table, nil
}
