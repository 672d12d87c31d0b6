package flowbalance_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/fabric"
	"github.com/arc-self/continuum/pkg/fabric/memfabric"
	"github.com/arc-self/continuum/pkg/flowbalance"
)

func collectEvents(t *testing.T, f *memfabric.Fabric, subject string) <-chan causal.Event {
	t.Helper()
	ch := make(chan causal.Event, 16)
	_, err := f.Subscribe(context.Background(), subject, func(_ context.Context, _ string, data []byte) error {
		var ev causal.Event
		if err := json.Unmarshal(data, &ev); err == nil {
			ch <- ev
		}
		return nil
	})
	require.NoError(t, err)
	return ch
}

// TestBottleneckEmitsOnce is spec §8 end-to-end scenario 6.
func TestBottleneckEmitsOnce(t *testing.T) {
	f := memfabric.New()
	admin, _ := f.Admin()
	memAdmin := admin.(*memfabric.Admin)

	cfg := flowbalance.Config{
		Enabled:         true,
		PollingInterval: 20 * time.Millisecond,
		Thresholds: flowbalance.Thresholds{
			MinorLag:    10,
			ModerateLag: 50,
			SevereLag:   200,
			CriticalLag: 500,
			MinAckRate:  0.9,
		},
		Targets: []flowbalance.Target{{Stream: "S", Consumer: "C", NodeID: "worker-1"}},
	}

	events := collectEvents(t, f, fabric.SubjectFlowBalancePrefix+"bottleneck")

	mon, err := flowbalance.New(cfg, f, nil, nil)
	require.NoError(t, err)

	delivered := uint64(1000)
	set := func(lagPending uint64) {
		delivered += 5
		memAdmin.Set("S", "C", fabric.ConsumerInfo{
			NumPending: lagPending,
			Delivered:  delivered,
			Acked:      delivered - lagPending,
		})
	}
	set(60)

	ctx, cancel := context.WithCancel(context.Background())
	mon.Start(ctx)
	t.Cleanup(func() {
		cancel()
		mon.Stop()
	})

	// Lag held steady at 60 with new deliveries arriving every poll:
	// keep feeding the admin surface until the bottleneck event shows
	// up (spec §8 scenario 6: "within two polls").
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		ticker := time.NewTicker(15 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				set(60)
			}
		}
	}()

	var ev causal.Event
	select {
	case ev = <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a node.down bottleneck event")
	}
	require.Equal(t, flowbalance.EventNodeDown, ev.Type)

	// The pattern is still ongoing: it must not re-emit every tick.
	select {
	case <-events:
		t.Fatal("bottleneck re-emitted while still ongoing")
	case <-time.After(100 * time.Millisecond):
	}
}
