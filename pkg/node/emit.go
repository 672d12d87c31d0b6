package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/continuum"
	"github.com/arc-self/continuum/pkg/fabric"
	"github.com/arc-self/continuum/pkg/identity"
)

// inboundEventKey threads the event a handler is currently processing
// onto the context passed to Emit/Send/Broadcast made from inside that
// handler, so causality stamping can fill in causationId/correlationId
// against it (spec §4.3: "If the emit occurs inside a handler").
type inboundEventKey struct{}

func withInboundEvent(ctx context.Context, ev *causal.Event) context.Context {
	return context.WithValue(ctx, inboundEventKey{}, ev)
}

func inboundEventFrom(ctx context.Context) *causal.Event {
	ev, _ := ctx.Value(inboundEventKey{}).(*causal.Event)
	return ev
}

// prepare stamps causality onto shell (spec §4.3) and, when this node
// owns an identity, computes its schema-fingerprint hash and signs it
// (spec §4.2). Shared by Emit/Send/Broadcast.
func (n *Node) prepare(ctx context.Context, shell *causal.Event) error {
	causal.Stamp(shell, n.id, inboundEventFrom(ctx), n.clock)
	if n.identity == nil {
		return nil
	}

	hash, err := identity.Hash(shell.Payload)
	if err != nil {
		return fmt.Errorf("node: hash payload: %w", err)
	}
	shell.Context.Causal.Hash = hash

	meta := identity.SignedMetadata{
		ID:            shell.Context.Causal.ID,
		Sender:        shell.Context.Causal.Sender,
		Timestamp:     shell.Context.Causal.Timestamp,
		CausationID:   shell.Context.Causal.CausationID,
		CorrelationID: shell.Context.Causal.CorrelationID,
	}
	signBytes, err := identity.SignBytes(shell.Type, shell.Payload, meta)
	if err != nil {
		return fmt.Errorf("node: canonicalise for signing: %w", err)
	}
	sig, err := identity.Sign(n.identity.PrivateKey, signBytes)
	if err != nil {
		return fmt.Errorf("node: sign: %w", err)
	}
	shell.Context.Integrity = &causal.Integrity{
		Signature: sig,
		PublicKey: identity.EncodePublicKey(n.identity.PublicKey),
	}
	return nil
}

// Emit stamps causality, signs when this node owns an identity, and
// publishes shell on the fabric subject derived from its type (spec
// §4.6). Because On/OnFunc already subscribed this node to that same
// subject, matching local subscriptions receive the event through the
// ordinary publish/subscribe path — no separate local-loop code path
// is needed.
func (n *Node) Emit(ctx context.Context, shell causal.Event) error {
	if n.isClosed() {
		return ErrNodeShutdown
	}
	if err := n.prepare(ctx, &shell); err != nil {
		return err
	}
	payload, err := json.Marshal(shell)
	if err != nil {
		return fmt.Errorf("node: encode event: %w", err)
	}
	return n.fabric.Publish(ctx, fabric.SubjectForType(shell.Type, n.separator), payload)
}

// Broadcast stamps, signs, and publishes shell to the fan-out subject
// every node (including the emitter) receives (spec §4.6).
func (n *Node) Broadcast(ctx context.Context, shell causal.Event) error {
	if n.isClosed() {
		return ErrNodeShutdown
	}
	if err := n.prepare(ctx, &shell); err != nil {
		return err
	}
	payload, err := json.Marshal(shell)
	if err != nil {
		return fmt.Errorf("node: encode event: %w", err)
	}
	return n.fabric.Publish(ctx, fabric.SubjectBroadcast, payload)
}

// DefaultSendTimeout is used by SendResult.Return when called with a
// non-positive timeout.
const DefaultSendTimeout = 30 * time.Second

// SendResult is returned by Send; Return blocks for the handler's
// final result, rejecting with a TimeoutError if none arrives within
// the deadline (spec §4.6, §5).
type SendResult struct {
	node  *Node
	token string
}

// Return waits up to timeout (DefaultSendTimeout if <= 0) for the
// target's completion signal. Send takes a single event and has no
// batch form, so a SendResult always belongs to exactly one event.
func (r *SendResult) Return(timeout time.Duration) (continuum.Result, error) {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	r.node.mu.RLock()
	w, ok := r.node.sendWaiters[r.token]
	r.node.mu.RUnlock()
	if !ok {
		if r.node.isClosed() {
			return continuum.Result{}, &TimeoutError{Target: r.token, Waited: 0}
		}
		return continuum.Result{}, fmt.Errorf("node: send result for %q already consumed", r.token)
	}
	defer func() {
		r.node.mu.Lock()
		delete(r.node.sendWaiters, r.token)
		r.node.mu.Unlock()
		w.dispose()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-w.ch:
		return reply.result, reply.err
	case <-timer.C:
		return continuum.Result{}, &TimeoutError{Target: r.token, Waited: timeout}
	}
}

// Send delivers shell directly to target (spec §4.6). A node id equal
// to this node's own, or one the Registry resolves to a locally hosted
// *Node, is dispatched in-process; otherwise shell travels over the
// fabric's direct-delivery subject for target. Regardless of delivery
// path, the completion signal is always awaited through an ephemeral
// fabric subscription on the synthetic _signal.<token> subject (spec
// §6), which works identically whether the handler that completes it
// ran in this process or a remote one.
func (n *Node) Send(ctx context.Context, target string, shell causal.Event) (*SendResult, error) {
	if n.isClosed() {
		return nil, ErrNodeShutdown
	}
	if err := n.prepare(ctx, &shell); err != nil {
		return nil, err
	}

	token := causal.NewID()
	if shell.Context.Metadata == nil {
		shell.Context.Metadata = make(map[string]any)
	}
	shell.Context.Metadata["signalOnCompletion"] = token

	ch := make(chan pendingReply, 1)
	dispose, err := n.fabric.Subscribe(context.Background(), fabric.SubjectForSignal(token), func(_ context.Context, _ string, data []byte) error {
		result, replyErr := decodeSignalReply(data)
		select {
		case ch <- pendingReply{result: result, err: replyErr}:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("node: subscribe completion signal: %w", err)
	}

	n.mu.Lock()
	n.sendWaiters[token] = &sendWaiter{ch: ch, dispose: dispose}
	n.mu.Unlock()

	if err := n.deliver(ctx, target, &shell); err != nil {
		n.mu.Lock()
		delete(n.sendWaiters, token)
		n.mu.Unlock()
		dispose()
		return nil, err
	}

	return &SendResult{node: n, token: token}, nil
}

// deliver routes shell to target, locally when possible.
func (n *Node) deliver(ctx context.Context, target string, shell *causal.Event) error {
	if target == n.id {
		n.dispatchInbound(ctx, shell)
		return nil
	}
	if n.registry != nil {
		if peer, ok := n.registry.Lookup(target); ok {
			peer.dispatchInbound(ctx, shell)
			return nil
		}
	}
	payload, err := json.Marshal(shell)
	if err != nil {
		return fmt.Errorf("node: encode event: %w", err)
	}
	return n.fabric.Publish(ctx, directSubject(target), payload)
}
