package node_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/continuum"
	"github.com/arc-self/continuum/pkg/fabric/memfabric"
	"github.com/arc-self/continuum/pkg/node"
	"github.com/arc-self/continuum/pkg/pattern"
)

func newTestNode(t *testing.T, f *memfabric.Fabric, id string) *node.Node {
	t.Helper()
	n, err := node.New(id, node.Options{Fabric: f})
	require.NoError(t, err)
	t.Cleanup(n.Shutdown)
	return n
}

// TestPingPongWithSignal is spec §8 end-to-end scenario 1.
func TestPingPongWithSignal(t *testing.T) {
	f := memfabric.New()
	a := newTestNode(t, f, "A")
	b := newTestNode(t, f, "B")

	var received int32
	_, err := b.On("basic-event", func(ctx context.Context, event any, cctx *continuum.Context) continuum.Next {
		atomic.AddInt32(&received, 1)
		return continuum.Done(nil)
	})
	require.NoError(t, err)

	var pings int32
	_, err = a.On("_signal.s1", func(ctx context.Context, event any, cctx *continuum.Context) continuum.Next {
		atomic.AddInt32(&pings, 1)
		return continuum.Done(nil)
	})
	require.NoError(t, err)

	shell := causal.Event{Type: "basic-event", Context: causal.Context{
		Metadata: map[string]any{"signalOnCompletion": "s1"},
	}}
	require.NoError(t, a.Broadcast(context.Background(), shell))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) == 1 && atomic.LoadInt32(&pings) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestChainedABC is spec §8 end-to-end scenario 2.
func TestChainedABC(t *testing.T) {
	f := memfabric.New()
	a := newTestNode(t, f, "A")
	b := newTestNode(t, f, "B")
	c := newTestNode(t, f, "C")

	var bSawCorrelation, bSawCausation string
	done := make(chan struct{}, 1)

	_, err := b.On("event-A", func(ctx context.Context, event any, cctx *continuum.Context) continuum.Next {
		ev := event.(*causal.Event)
		bSawCausation = ev.Context.Causal.ID
		bSawCorrelation = ev.Context.Causal.CorrelationID
		next := causal.Event{Type: "event-B"}
		_ = b.Emit(ctx, next)
		return continuum.Done(nil)
	})
	require.NoError(t, err)

	_, err = c.On("event-B", func(ctx context.Context, event any, cctx *continuum.Context) continuum.Next {
		done <- struct{}{}
		return continuum.Done(nil)
	})
	require.NoError(t, err)

	shell := causal.Event{Type: "event-A"}
	require.NoError(t, a.Broadcast(context.Background(), shell))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("C never observed event-B")
	}
	assert.NotEmpty(t, bSawCausation)
	assert.NotEmpty(t, bSawCorrelation)
}

// TestAcceptPolicy is spec §8 end-to-end scenario 3.
func TestAcceptPolicy(t *testing.T) {
	f := memfabric.New()
	orderSvc := newTestNode(t, f, "order-service-v1")
	adminSvc := newTestNode(t, f, "admin-root")
	inventorySvc := newTestNode(t, f, "inventory-service")

	acceptFrom := []*pattern.Matcher{}
	for _, expr := range []string{"order-service-*", "admin-*"} {
		m, err := pattern.Compile(expr, '-')
		require.NoError(t, err)
		acceptFrom = append(acceptFrom, m)
	}

	p, err := node.New("p", node.Options{
		Fabric:       f,
		Separator:    '-',
		AcceptPolicy: &node.AcceptPolicy{AcceptFrom: acceptFrom},
	})
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)

	var invocations int32
	_, err = p.On("*", func(ctx context.Context, event any, cctx *continuum.Context) continuum.Next {
		atomic.AddInt32(&invocations, 1)
		return continuum.Done(nil)
	})
	require.NoError(t, err)

	require.NoError(t, orderSvc.Broadcast(context.Background(), causal.Event{Type: "ping"}))
	require.NoError(t, adminSvc.Broadcast(context.Background(), causal.Event{Type: "ping"}))
	require.NoError(t, inventorySvc.Broadcast(context.Background(), causal.Event{Type: "ping"}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&invocations) == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, atomic.LoadInt32(&invocations))
}

// TestSendTimeout exercises the TimeoutError contract of SendResult.Return.
func TestSendTimeout(t *testing.T) {
	f := memfabric.New()
	a := newTestNode(t, f, "A")
	b := newTestNode(t, f, "B")

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	_, err := b.On("slow", func(ctx context.Context, event any, cctx *continuum.Context) continuum.Next {
		<-block
		return continuum.Done("too-late")
	})
	require.NoError(t, err)

	result, err := a.Send(context.Background(), "B", causal.Event{Type: "slow"})
	require.NoError(t, err)
	_, retErr := result.Return(20 * time.Millisecond)
	require.Error(t, retErr)
	var timeoutErr *node.TimeoutError
	assert.ErrorAs(t, retErr, &timeoutErr)
}

// TestSendToSelf exercises directed self-send, including a reply value.
func TestSendToSelf(t *testing.T) {
	f := memfabric.New()
	a := newTestNode(t, f, "A")

	_, err := a.On("echo", func(ctx context.Context, event any, cctx *continuum.Context) continuum.Next {
		ev := event.(*causal.Event)
		return continuum.Done(ev.Payload)
	})
	require.NoError(t, err)

	result, err := a.Send(context.Background(), "A", causal.Event{Type: "echo", Payload: "hello"})
	require.NoError(t, err)
	out, err := result.Return(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Value)
}
