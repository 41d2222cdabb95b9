// Package router classifies requests into categories and selects weighted
// failover candidates from the provider registry.
package router

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/metrics"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/registry"
)

// Category is a routing bucket selecting a provider pool.
type Category string

const (
	CategoryDefault     Category = "default"
	CategoryBackground  Category = "background"
	CategoryThinking    Category = "thinking"
	CategoryLongContext Category = "longcontext"
	CategorySearch      Category = "search"
)

// Decision is the write-once routing outcome carried read-only through the
// rest of the pipeline.
type Decision struct {
	Provider  *registry.ProviderProfile
	Model     string
	Category  Category
	RuleID    string
	Method    string
	Elapsed   time.Duration
	Timestamp time.Time
}

// Router owns the classification rules and the per-tier round-robin
// counters. Counters belong to the instance, never to package state, and are
// advanced atomically so concurrent selections stay balanced.
type Router struct {
	reg      *registry.Registry
	table    *registry.RoutingTable
	counters map[string]*atomic.Uint64
}

// New builds a router over a loaded registry and routing table. Round-robin
// counters are allocated up front for every category/tier pair so the
// request path never mutates the map.
func New(reg *registry.Registry, table *registry.RoutingTable) *Router {
	counters := make(map[string]*atomic.Uint64)
	for category, targets := range table.Routes {
		for _, tier := range tiersOf(reg, targets) {
			key := counterKey(category, tier.weight)
			if _, ok := counters[key]; !ok {
				counters[key] = &atomic.Uint64{}
			}
		}
	}
	return &Router{reg: reg, table: table, counters: counters}
}

func counterKey(category string, weight int) string {
	return fmt.Sprintf("%s/%d", category, weight)
}

// Classify buckets a request. Priority order: model-name pattern, thinking
// config, search tool presence, then the estimated-token long-context
// boundary. Returns the category and the id of the rule that matched.
func (r *Router) Classify(req *domain.MessagesRequest) (Category, string) {
	model := strings.ToLower(req.Model)
	for _, pat := range r.table.BackgroundPatterns {
		if strings.Contains(model, strings.ToLower(pat)) {
			return CategoryBackground, "model-pattern:" + pat
		}
	}
	for _, pat := range r.table.ThinkingPatterns {
		if strings.Contains(model, strings.ToLower(pat)) {
			return CategoryThinking, "model-pattern:" + pat
		}
	}
	if req.Thinking != nil {
		return CategoryThinking, "thinking-config"
	}
	for _, tool := range req.Tools {
		name := tool.Name
		if name == "" && tool.Function != nil {
			name = tool.Function.Name
		}
		for _, search := range r.table.SearchToolNames {
			if name == search {
				return CategorySearch, "search-tool:" + search
			}
		}
	}
	if EstimateTokens(req) >= r.table.LongContextThreshold {
		return CategoryLongContext, "long-context-threshold"
	}
	return CategoryDefault, "default"
}

type tier struct {
	weight  int
	targets []candidate
}

type candidate struct {
	profile *registry.ProviderProfile
	model   string
}

func tiersOf(reg *registry.Registry, targets []registry.Target) []tier {
	byWeight := make(map[int][]candidate)
	for _, t := range targets {
		profile, ok := reg.Get(t.Provider)
		if !ok {
			continue
		}
		byWeight[profile.Weight] = append(byWeight[profile.Weight], candidate{profile: profile, model: t.Model})
	}
	weights := make([]int, 0, len(byWeight))
	for w := range byWeight {
		weights = append(weights, w)
	}
	sort.Ints(weights)
	tiers := make([]tier, 0, len(weights))
	for _, w := range weights {
		tiers = append(tiers, tier{weight: w, targets: byWeight[w]})
	}
	return tiers
}

// Candidates returns the ordered failover list for a category. The head is
// the selected target: the round-robin pick within the lowest tier that has
// at least one healthy provider. Healthy providers from deeper tiers follow
// as failover candidates. Categories with no route of their own fall back to
// the default pool. Returns ErrRoutingExhausted when no tier has a healthy
// target.
func (r *Router) Candidates(category Category, ruleID string) ([]Decision, error) {
	start := time.Now()

	catKey := string(category)
	targets := r.table.Routes[catKey]
	if len(targets) == 0 {
		catKey = string(CategoryDefault)
		targets = r.table.Routes[catKey]
	}

	var decisions []Decision
	method := "weighted-round-robin"
	for _, t := range tiersOf(r.reg, targets) {
		healthy := make([]candidate, 0, len(t.targets))
		for _, c := range t.targets {
			if c.profile.Healthy() {
				healthy = append(healthy, c)
			}
		}
		if len(healthy) == 0 {
			continue
		}
		offset := 0
		if len(decisions) == 0 {
			// Only the tier that yields the primary pick advances its counter.
			n := r.counters[counterKey(catKey, t.weight)].Add(1)
			offset = int((n - 1) % uint64(len(healthy)))
		}
		for i := 0; i < len(healthy); i++ {
			c := healthy[(offset+i)%len(healthy)]
			decisions = append(decisions, Decision{
				Provider:  c.profile,
				Model:     c.model,
				Category:  category,
				RuleID:    ruleID,
				Method:    method,
				Elapsed:   time.Since(start),
				Timestamp: time.Now(),
			})
			method = "failover"
		}
	}
	if len(decisions) == 0 {
		return nil, domain.ErrRoutingExhausted
	}
	metrics.RoutingDecisions.WithLabelValues(string(category), ruleID).Inc()
	return decisions, nil
}

// Route classifies and selects in one step.
func (r *Router) Route(req *domain.MessagesRequest) ([]Decision, error) {
	category, ruleID := r.Classify(req)
	return r.Candidates(category, ruleID)
}
