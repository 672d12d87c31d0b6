package continuum

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_BareEndYieldsNoValue(t *testing.T) {
	h := func(ctx context.Context, event any, cctx *Context) Next { return End() }
	res := Run(context.Background(), h, nil, NewContext())
	assert.False(t, res.HasValue)
	assert.Nil(t, res.Stream)
}

func TestRun_ContinueChainsToFinalValue(t *testing.T) {
	step2 := func(ctx context.Context, event any, cctx *Context) Next {
		return Done("final")
	}
	step1 := func(ctx context.Context, event any, cctx *Context) Next {
		return Continue(step2)
	}
	res := Run(context.Background(), step1, nil, NewContext())
	require.True(t, res.HasValue)
	assert.Equal(t, "final", res.Value)
}

// TestRun_LoopUntilConsumed mirrors spec §8 scenario 5: a handler
// processes items by returning itself until all are consumed.
func TestRun_LoopUntilConsumed(t *testing.T) {
	items := []string{"A", "B", "C"}
	processed := []string{}
	idx := 0

	var loop Handler
	loop = func(ctx context.Context, event any, cctx *Context) Next {
		if idx >= len(items) {
			return Done(map[string]any{"processed": processed})
		}
		processed = append(processed, "processed-"+items[idx])
		idx++
		return Continue(loop)
	}

	res := Run(context.Background(), loop, nil, NewContext())
	require.True(t, res.HasValue)
	final := res.Value.(map[string]any)
	assert.Equal(t,
		[]string{"processed-A", "processed-B", "processed-C"},
		final["processed"],
	)
}

func TestRun_StreamReturnsSequence(t *testing.T) {
	seq := &sliceSequence{values: []any{1, 2, 3}}
	h := func(ctx context.Context, event any, cctx *Context) Next { return Stream(seq) }
	res := Run(context.Background(), h, nil, NewContext())
	require.NotNil(t, res.Stream)
	assert.False(t, res.HasValue)

	var drained []any
	for {
		v, ok, err := res.Stream.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		drained = append(drained, v)
	}
	assert.Equal(t, []any{1, 2, 3}, drained)
}

func TestCompose_FirstNonEndWins(t *testing.T) {
	h1 := func(ctx context.Context, event any, cctx *Context) Next { return End() }
	h2 := func(ctx context.Context, event any, cctx *Context) Next { return Done("from-h2") }
	h3 := func(ctx context.Context, event any, cctx *Context) Next { return Done("from-h3") }

	composed := Compose(h1, h2, h3)
	res := Run(context.Background(), composed, nil, NewContext())
	assert.Equal(t, "from-h2", res.Value)
}

func TestConditional_SelectsBranch(t *testing.T) {
	thenH := func(ctx context.Context, event any, cctx *Context) Next { return Done("then") }
	elseH := func(ctx context.Context, event any, cctx *Context) Next { return Done("else") }

	cond := Conditional(func(event any, cctx *Context) bool { return event == "go" }, thenH, elseH)

	res := Run(context.Background(), cond, "go", NewContext())
	assert.Equal(t, "then", res.Value)

	res2 := Run(context.Background(), cond, "no", NewContext())
	assert.Equal(t, "else", res2.Value)
}

func TestTap_RunsSideEffectThenContinues(t *testing.T) {
	var sideEffectRan bool
	next := func(ctx context.Context, event any, cctx *Context) Next { return Done("done") }
	tapped := Tap(func(event any, cctx *Context) { sideEffectRan = true }, next)

	res := Run(context.Background(), tapped, nil, NewContext())
	assert.True(t, sideEffectRan)
	assert.Equal(t, "done", res.Value)
}

func TestWithErrorHandler_CatchesFailAndReplaces(t *testing.T) {
	failing := func(ctx context.Context, event any, cctx *Context) Next {
		Fail(errors.New("boom"))
		return End() // unreachable
	}
	var caught error
	wrapped := WithErrorHandler(failing, func(err error, event any, cctx *Context) Next {
		caught = err
		return Done("recovered")
	})

	res := Run(context.Background(), wrapped, nil, NewContext())
	require.Error(t, caught)
	assert.Equal(t, "recovered", res.Value)
}

func TestWithErrorHandler_RepanicsNonErrorValues(t *testing.T) {
	failing := func(ctx context.Context, event any, cctx *Context) Next {
		panic("not an error")
	}
	wrapped := WithErrorHandler(failing, func(err error, event any, cctx *Context) Next {
		return Done("should not reach")
	})

	assert.Panics(t, func() {
		Run(context.Background(), wrapped, nil, NewContext())
	})
}

func TestContext_ExtrasGetSet(t *testing.T) {
	c := NewContext()
	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", 42)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

type sliceSequence struct {
	values []any
	idx    int
}

func (s *sliceSequence) Next(ctx context.Context) (any, bool, error) {
	if s.idx >= len(s.values) {
		return nil, false, nil
	}
	v := s.values[s.idx]
	s.idx++
	return v, true, nil
}

func (s *sliceSequence) Close() error { return nil }
