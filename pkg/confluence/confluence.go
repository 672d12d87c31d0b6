// Package confluence implements collective operations over an ordered
// group of nodes (spec §4.8, C8): install the same handler everywhere,
// fan a send or broadcast out to every member, and aggregate results
// with per-member error isolation.
//
// This is spec §9's antidote to "prototype extension (array syntax)":
// rather than extending a global container type, ForGroup returns a
// free-standing value with On/Send/Broadcast methods. The per-member
// isolation (one node's failure never stops the others, surfaced as a
// {error: message} entry instead) follows the nil-safe, isolate-per-
// subscriber idiom in nugget-thane-ai-agent's internal/events.Bus,
// applied across nodes instead of channels.
package confluence

import (
	"context"
	"fmt"
	"time"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/continuum"
	"github.com/arc-self/continuum/pkg/fabric"
	"github.com/arc-self/continuum/pkg/node"
)

// Group is an ordered sequence of nodes N = [n1..nk] (spec §4.8).
type Group struct {
	nodes []*node.Node
}

// ForGroup wraps nodes for collective operations. The slice's order is
// preserved in every aggregate result.
func ForGroup(nodes []*node.Node) *Group {
	return &Group{nodes: nodes}
}

// On installs handler on every member, wrapping it so each invocation
// observes {node: {id: ni.id}} in the continuum context's extras (spec
// §4.8 "the per-invocation context is augmented with {node:
// {id: ni.id}}"). If any member fails to subscribe, every subscription
// already installed is disposed and the first error is returned.
func (g *Group) On(expr string, handler continuum.Handler) ([]fabric.Disposer, error) {
	disposers := make([]fabric.Disposer, 0, len(g.nodes))
	for _, n := range g.nodes {
		id := n.ID()
		wrapped := func(ctx context.Context, event any, cctx *continuum.Context) continuum.Next {
			cctx.Set("node", map[string]any{"id": id})
			return handler(ctx, event, cctx)
		}
		d, err := n.On(expr, wrapped)
		if err != nil {
			for _, dispose := range disposers {
				dispose()
			}
			return nil, fmt.Errorf("confluence: On(%q) on node %s: %w", expr, id, err)
		}
		disposers = append(disposers, d)
	}
	return disposers, nil
}

// Member is one node's outcome within an aggregate confluence result
// (spec §4.8 "the aggregate reports {error: message} for each failing
// member").
type Member struct {
	Value any
	Err   error
}

// SendResult aggregates one outstanding Send per group member,
// returned by Send/SendSelf. Return blocks for every member's
// completion signal independently, so one slow or failing member never
// delays the others' results in the returned map.
type SendResult struct {
	nodeOrder []string
	sent      map[string]*node.SendResult
	sendErrs  map[string]error
}

// Return waits up to timeout for each member's reply and returns a
// map keyed by node id (spec §4.8 "the aggregate SendResult.return()
// yields a map {ni.id → result | {error}}").
func (r *SendResult) Return(timeout time.Duration) map[string]Member {
	out := make(map[string]Member, len(r.nodeOrder))
	for _, id := range r.nodeOrder {
		if err, ok := r.sendErrs[id]; ok {
			out[id] = Member{Err: err}
			continue
		}
		result, err := r.sent[id].Return(timeout)
		out[id] = Member{Value: result.Value, Err: err}
	}
	return out
}

// Send has each member send shell to target independently (spec §4.8
// "N.send(target, event)"). A member whose Send call itself fails
// (e.g. the node is shut down) is recorded as a failing member rather
// than aborting the others.
func (g *Group) Send(ctx context.Context, target string, shell causal.Event) *SendResult {
	return g.send(ctx, func(n *node.Node) (*node.SendResult, error) {
		return n.Send(ctx, target, shell)
	})
}

// SendSelf has each member send shell to itself (spec §4.8 "N.send(event)").
func (g *Group) SendSelf(ctx context.Context, shell causal.Event) *SendResult {
	return g.send(ctx, func(n *node.Node) (*node.SendResult, error) {
		return n.Send(ctx, n.ID(), shell)
	})
}

func (g *Group) send(ctx context.Context, do func(*node.Node) (*node.SendResult, error)) *SendResult {
	r := &SendResult{
		nodeOrder: make([]string, 0, len(g.nodes)),
		sent:      make(map[string]*node.SendResult, len(g.nodes)),
		sendErrs:  make(map[string]error),
	}
	for _, n := range g.nodes {
		id := n.ID()
		r.nodeOrder = append(r.nodeOrder, id)
		sr, err := do(n)
		if err != nil {
			r.sendErrs[id] = err
			continue
		}
		r.sent[id] = sr
	}
	return r
}

// Broadcast has every member broadcast shell independently (spec §4.8
// "N.broadcast(event)"); k*k deliveries are expected if every member
// also subscribes to the same type. The result maps each node id to
// its own Broadcast error, nil on success.
func (g *Group) Broadcast(ctx context.Context, shell causal.Event) map[string]error {
	out := make(map[string]error, len(g.nodes))
	for _, n := range g.nodes {
		out[n.ID()] = n.Broadcast(ctx, shell)
	}
	return out
}
