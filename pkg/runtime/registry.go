package runtime

import (
	"sync"

	"github.com/arc-self/continuum/pkg/node"
)

// registry is the runtime's node.Registry implementation: every node
// createNode hands out registers itself here, so Send's local-loop
// delivery and pkg/views' selector reads can resolve any node id this
// runtime owns without a direct reference (spec §4.6, §4.7). Lookup is
// called from arbitrary node goroutines, so it is guarded the same way
// spec §5 requires for the view registry: "many-readers, single-writer
// per key".
//
// insertion order is tracked separately because shutdown must dispose
// nodes "in insertion order" (spec §4.12), and a Go map has none.
type registry struct {
	mu    sync.RWMutex
	byID  map[string]*node.Node
	order []string
}

func newRegistry() *registry {
	return &registry{byID: make(map[string]*node.Node)}
}

func (r *registry) add(n *node.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[n.ID()]; !exists {
		r.order = append(r.order, n.ID())
	}
	r.byID[n.ID()] = n
}

func (r *registry) Lookup(id string) (*node.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byID[id]
	return n, ok
}

func (r *registry) inInsertionOrder() []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*node.Node, 0, len(r.order))
	for _, id := range r.order {
		if n, ok := r.byID[id]; ok {
			out = append(out, n)
		}
	}
	return out
}
