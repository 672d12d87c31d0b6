package memfabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arc-self/continuum/pkg/fabric"
)

// Admin is an in-memory, test-controlled implementation of
// fabric.Admin: tests set consumer metrics directly rather than
// polling a real broker, so pkg/flowbalance's pattern-detection logic
// can be driven deterministically (spec §8 end-to-end scenario 6).
type Admin struct {
	mu        sync.Mutex
	consumers map[string]fabric.ConsumerInfo // key: stream+"/"+consumer
}

// NewAdmin creates an empty Admin.
func NewAdmin() *Admin {
	return &Admin{consumers: make(map[string]fabric.ConsumerInfo)}
}

func key(stream, consumer string) string { return stream + "/" + consumer }

// Set installs or replaces the metrics snapshot for a consumer, the
// lever tests pull to simulate lag.
func (a *Admin) Set(stream, consumer string, info fabric.ConsumerInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info.Stream = stream
	info.Consumer = consumer
	info.SampledAt = time.Now()
	a.consumers[key(stream, consumer)] = info
}

func (a *Admin) ConsumerInfo(ctx context.Context, stream, consumer string) (fabric.ConsumerInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, ok := a.consumers[key(stream, consumer)]
	if !ok {
		return fabric.ConsumerInfo{}, fmt.Errorf("memfabric admin: unknown consumer %s/%s", stream, consumer)
	}
	return info, nil
}

func (a *Admin) StreamInfo(ctx context.Context, stream string) (fabric.StreamInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uint64
	for k, info := range a.consumers {
		if hasStreamPrefix(k, stream) {
			total += info.NumPending
		}
	}
	return fabric.StreamInfo{Name: stream, Messages: total}, nil
}

func (a *Admin) ListConsumers(ctx context.Context, stream string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var names []string
	prefix := stream + "/"
	for k := range a.consumers {
		if hasStreamPrefix(k, stream) {
			names = append(names, k[len(prefix):])
		}
	}
	return names, nil
}

func hasStreamPrefix(k, stream string) bool {
	prefix := stream + "/"
	return len(k) > len(prefix) && k[:len(prefix)] == prefix
}
