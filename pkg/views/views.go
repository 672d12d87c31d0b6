// Package views implements the read-only global-state surface (spec
// §4.7, C7): point-in-time selector reads across one or many nodes,
// resolved through a node.Registry rather than direct node references
// so a view reader never needs anything more than node ids.
//
// Grounded on the teacher's packages/apisix-go-runner/plugins/authz.go
// cache-then-compute pattern (Redis HGetAll → miss → compute → HSet +
// Expire); pkg/views/cache.go adapts that exact shape, substituting a
// selector function for the gRPC call the teacher cached.
package views

import "github.com/arc-self/continuum/pkg/node"

// Selector reads a projection out of a node's current local state
// (spec §4.7 "runs selectorFn against each node's current registered
// state"). Selectors should be pure and fast; they are called with no
// lock held, and node accessors such as State and StateSnapshot take
// the state lock themselves for each call.
type Selector func(n *node.Node) any

// Get reads a single node's snapshot through selector. The second
// return is false if nodeID is not known to registry (spec §4.7
// "missing nodes yield undefined").
func Get(registry node.Registry, nodeID string, selector Selector) (any, bool) {
	n, ok := registry.Lookup(nodeID)
	if !ok {
		return nil, false
	}
	return selector(n), true
}

// Collect runs selector against every id in nodeIDs, in order,
// resolved through registry. A missing node contributes a nil entry
// rather than shortening the result (spec §4.7 "missing nodes yield
// undefined" — undefined is modelled as a nil interface value at the
// corresponding index, preserving nodeIDs' length and order).
func Collect(registry node.Registry, nodeIDs []string, selector Selector) []any {
	out := make([]any, len(nodeIDs))
	for i, id := range nodeIDs {
		if n, ok := registry.Lookup(id); ok {
			out[i] = selector(n)
		}
	}
	return out
}
