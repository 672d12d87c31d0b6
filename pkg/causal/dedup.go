package causal

import (
	"container/list"
	"sync"
)

// DefaultDedupSize is the minimum LRU capacity spec §4.3 requires.
const DefaultDedupSize = 10000

// Dedup is a bounded LRU of recently observed causal ids. It is a
// single-writer, single-reader structure per node (spec §5); Seen
// serialises its own access so it is also safe to share across
// goroutines within one node, at the cost of a mutex the single-loop
// model wouldn't need.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewDedup creates a Dedup with the given capacity. Capacities below
// DefaultDedupSize are raised to DefaultDedupSize, the spec's
// documented minimum.
func NewDedup(capacity int) *Dedup {
	if capacity < DefaultDedupSize {
		capacity = DefaultDedupSize
	}
	return &Dedup{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Seen reports whether id has already been recorded, and records it if
// not. A duplicate id is re-receipt and must be discarded silently by
// the caller (spec §4.3, §7 DuplicateEventError).
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[id]; ok {
		d.order.MoveToFront(el)
		return true
	}

	el := d.order.PushFront(id)
	d.index[id] = el

	for d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest == nil {
			break
		}
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(string))
	}
	return false
}

// Len reports the current number of tracked ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
