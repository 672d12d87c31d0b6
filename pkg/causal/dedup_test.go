package causal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedup_FirstSeenThenDuplicate(t *testing.T) {
	d := NewDedup(0) // clamps to DefaultDedupSize
	assert.False(t, d.Seen("e1"))
	assert.True(t, d.Seen("e1"))
}

func TestDedup_EvictsOldestBeyondCapacity(t *testing.T) {
	d := NewDedup(10010) // small above-minimum capacity for a fast test
	capacity := 10010
	for i := 0; i < capacity+5; i++ {
		d.Seen(fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, capacity, d.Len())
	// the earliest ids should have been evicted
	assert.False(t, d.Seen("id-0"))
}

func TestDedup_MinimumCapacityEnforced(t *testing.T) {
	d := NewDedup(1)
	assert.GreaterOrEqual(t, d.capacity, DefaultDedupSize)
}
