package runtime_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/continuum"
	"github.com/arc-self/continuum/pkg/node"
	"github.com/arc-self/continuum/pkg/runtime"
)

func testConfig() runtime.Config {
	return runtime.Config{
		Fabric:           runtime.FabricConfig{Backend: "mem"},
		HousekeepingCron: "@every 1h", // never fires within a test
	}
}

// TestCreateNodeRegistersForLocalLoopSend exercises CreateNode +
// GetFabric + directed Send resolving through the runtime's own
// registry (spec §4.12, §4.6).
func TestCreateNodeRegistersForLocalLoopSend(t *testing.T) {
	rt, err := runtime.Initialise(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(rt.Shutdown)

	a, err := rt.CreateNode("A", runtime.NodeOptions{})
	require.NoError(t, err)
	b, err := rt.CreateNode("B", runtime.NodeOptions{})
	require.NoError(t, err)

	var received int32
	_, err = b.On("echo", func(ctx context.Context, event any, cctx *continuum.Context) continuum.Next {
		atomic.AddInt32(&received, 1)
		return continuum.Done("pong")
	})
	require.NoError(t, err)

	result, err := a.Send(context.Background(), "B", causal.Event{Type: "echo"})
	require.NoError(t, err)
	out, err := result.Return(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", out.Value)
	assert.EqualValues(t, 1, atomic.LoadInt32(&received))
	assert.NotNil(t, rt.GetFabric())
}

// TestShutdownIsIdempotentAndClosesNodes asserts a second Shutdown
// call is a no-op and a node Send made after Shutdown observes
// ErrNodeShutdown. The order in which Shutdown disposes nodes, the
// monitor and the fabric is not observed here.
func TestShutdownIsIdempotentAndClosesNodes(t *testing.T) {
	rt, err := runtime.Initialise(context.Background(), testConfig(), nil)
	require.NoError(t, err)

	a, err := rt.CreateNode("A", runtime.NodeOptions{})
	require.NoError(t, err)

	rt.Shutdown()
	rt.Shutdown() // must not panic or block

	_, err = a.Send(context.Background(), "A", causal.Event{Type: "echo"})
	assert.ErrorIs(t, err, node.ErrNodeShutdown)
}
