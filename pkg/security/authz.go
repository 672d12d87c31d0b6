package security

import (
	"context"
	"sort"
	"sync"

	"github.com/arc-self/continuum/pkg/causal"
)

// PolicyRule grants or denies a set of permissions to a principal
// (spec §4.10 gate 3: "{principal → permissions[], deny, priority}").
// Principal may be an exact principal id (the event's origin sourceId
// when set, otherwise its sender) or "*" to match any principal.
// Priority is evaluated ascending (0 first, lower value = higher
// priority); the first matching rule for the required permission
// wins, so a Deny rule with a lower Priority value overrides an Allow
// with a higher one.
type PolicyRule struct {
	Principal   string
	Permissions []string
	Deny        bool
	Priority    int
}

func (r PolicyRule) grants(permission string) bool {
	for _, p := range r.Permissions {
		if p == permission || p == "*" {
			return true
		}
	}
	return false
}

// AuthZPolicy is the principal/permission rule set consulted by
// AuthZGate. It is in-memory and process-local: spec.md describes
// AuthZ as consulting "an access policy", without mandating an
// external policy service, so this stays a plain guarded map rather
// than reaching for the teacher's gRPC-based IAM client (see
// DESIGN.md's dropped-dependency entry for apps/iam-service).
type AuthZPolicy struct {
	mu    sync.RWMutex
	rules []PolicyRule
}

// NewAuthZPolicy builds a policy from an initial rule set.
func NewAuthZPolicy(rules ...PolicyRule) *AuthZPolicy {
	p := &AuthZPolicy{}
	p.Set(rules)
	return p
}

// Set replaces the entire rule set.
func (p *AuthZPolicy) Set(rules []PolicyRule) {
	sorted := make([]PolicyRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = sorted
}

// Allows reports whether principal holds permission, consulting rules
// in priority order. No matching rule is a fail-closed deny.
func (p *AuthZPolicy) Allows(principal, permission string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.rules {
		if r.Principal != principal && r.Principal != "*" {
			continue
		}
		if !r.grants(permission) {
			continue
		}
		return !r.Deny
	}
	return false
}

// AuthZGate enforces per-event-type permission requirements against an
// AuthZPolicy (spec §4.10 gate 3). Event types with no registered
// requirement pass unchecked.
type AuthZGate struct {
	mu           sync.RWMutex
	policy       *AuthZPolicy
	requirements map[string]string // event type -> required permission
}

// NewAuthZGate builds a gate over policy with an initial event
// type→permission requirement map.
func NewAuthZGate(policy *AuthZPolicy, requirements map[string]string) *AuthZGate {
	reqs := make(map[string]string, len(requirements))
	for k, v := range requirements {
		reqs[k] = v
	}
	return &AuthZGate{policy: policy, requirements: reqs}
}

func (g *AuthZGate) Name() string { return "authz" }

// RequirePermission registers (or replaces) the permission required to
// emit an event of the given type.
func (g *AuthZGate) RequirePermission(eventType, permission string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requirements[eventType] = permission
}

func (g *AuthZGate) Evaluate(ctx context.Context, ev *causal.Event) error {
	g.mu.RLock()
	required, ok := g.requirements[ev.Type]
	g.mu.RUnlock()
	if !ok {
		return nil
	}

	principal := ev.Context.Causal.Sender
	if ev.Context.Origin != nil && ev.Context.Origin.SourceID != "" {
		principal = ev.Context.Origin.SourceID
	}

	if !g.policy.Allows(principal, required) {
		return &SecurityError{Gate: g.Name(), Reason: "principal " + principal + " lacks permission " + required}
	}
	return nil
}
