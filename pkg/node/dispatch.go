package node

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/continuum"
	"github.com/arc-self/continuum/pkg/fabric"
	"github.com/arc-self/continuum/pkg/identity"
)

// dispatchInbound runs the eight-step pipeline (spec §4.6) over one
// decoded event:
//
//  1. decode                 (done by the caller, onWire)
//  2. reject if no integrity when this node requires signed input
//  3. verify the cryptographic signature, when present
//  4. deduplicate by causal id
//  5. evaluate the accept policy against the sender
//  6. run the configured security gate pipeline (schema/authz/...)
//  7. match the event type against installed subscriptions
//  8. dispatch into the continuum, publishing a completion signal if
//     the sender asked for one
func (n *Node) dispatchInbound(ctx context.Context, ev *causal.Event) {
	logger := n.logger.With(zap.String("eventId", ev.Context.Causal.ID), zap.String("eventType", ev.Type))

	// Steps 2/3: a rejected event that requested a completion signal
	// still gets one, carrying the rejection error, so a Send() caller
	// never hangs past its own timeout waiting on silence.
	if err := n.verifyIntegrity(ev); err != nil {
		logger.Warn("rejected event", zap.Error(err))
		n.publishRejection(ctx, ev, &RejectedEventError{Stage: "integrity", Reason: err})
		return
	}

	// Step 4
	if n.dedup.Seen(ev.Context.Causal.ID) {
		logger.Debug("discarding duplicate event", zap.Error(&DuplicateEventError{ID: ev.Context.Causal.ID}))
		return
	}

	// Step 5: an accept-policy rejection is silently discarded (spec
	// §4.11 "Rejected events are silently discarded and not visible to
	// handlers"; §7 lists AcceptRejection as silently dropped, unlike
	// SecurityError which IS raised to the sender) — no completion
	// signal is published, so a Send() caller with signalOnCompletion
	// set simply times out rather than observing the rejection.
	if !n.acceptPolicy.allows(ev.Context.Causal.Sender, ev.Context.Origin) {
		logger.Warn("rejected event", zap.Error(ErrSenderNotAccepted(ev.Context.Causal.Sender)))
		return
	}

	// Step 6
	if err := n.security.Evaluate(ctx, ev); err != nil {
		wrapped := &RejectedEventError{Stage: "security", Reason: err}
		logger.Warn("rejected event", zap.Error(wrapped))
		n.publishRejection(ctx, ev, wrapped)
		return
	}

	// Step 7
	n.mu.RLock()
	matched := make([]*Subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		if sub.Matcher.Match(ev.Type, ev) && sub.AcceptPolicy.allows(ev.Context.Causal.Sender, ev.Context.Origin) {
			matched = append(matched, sub)
		}
	}
	n.mu.RUnlock()

	// No subscription matched: no continuum runs, so no completion
	// signal is published.
	if len(matched) == 0 {
		return
	}

	// Step 8
	for _, sub := range matched {
		n.runHandler(ctx, sub, ev)
	}
}

func (n *Node) runHandler(ctx context.Context, sub *Subscription, ev *causal.Event) {
	cctx := continuum.NewContext()
	var result continuum.Result
	var handlerErr error

	hctx := withInboundEvent(ctx, ev)
	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					handlerErr = err
					return
				}
				panic(r)
			}
		}()
		result = continuum.Run(hctx, sub.Handler, ev, cctx)
	}()

	if handlerErr != nil {
		// Spec §7's propagation policy calls for "(c) logged and
		// swallowed for fire-and-forget emits" — emitted here rather
		// than in completeInbound so a signalled caller's own
		// SendResult.return also sees the error without this log line
		// depending on whether a reply was requested.
		n.logger.Warn("handler error",
			zap.String("eventId", ev.Context.Causal.ID),
			zap.String("eventType", ev.Type),
			zap.Error(handlerErr))
	}

	n.completeInbound(ctx, ev, result, handlerErr)
}

// completeInbound publishes the _signal.<token> completion event if ev
// requested one (spec §4.6 step 8, §6): a genuine causal.Event of type
// "_signal.<token>", decodable by any plain On("_signal.<token>")
// subscriber the way the ping-pong demo (spec §8 scenario 1) expects,
// carrying the handler's outcome in its payload so Send's own
// ephemeral listener can recover a typed Result from the very same
// wire message. Completion always travels over the fabric, never
// through an in-process shortcut, so it behaves identically whether
// the handler that produced result ran in this process or a remote
// one.
func (n *Node) completeInbound(ctx context.Context, ev *causal.Event, result continuum.Result, handlerErr error) {
	token, ok := ev.SignalOnCompletion()
	if !ok {
		return
	}

	reply := signalPayload{HasValue: result.HasValue, Value: result.Value}
	if handlerErr != nil {
		reply.Error = handlerErr.Error()
	}
	shell := causal.Event{Type: fabric.SubjectSignalPrefix + token, Payload: reply}
	causal.Stamp(&shell, n.id, ev, n.clock)

	payload, err := json.Marshal(shell)
	if err != nil {
		n.logger.Warn("failed to encode completion signal", zap.Error(err))
		return
	}
	if err := n.fabric.Publish(ctx, fabric.SubjectForSignal(token), payload); err != nil {
		n.logger.Warn("failed to publish completion signal", zap.Error(err))
	}
}

func (n *Node) publishRejection(ctx context.Context, ev *causal.Event, err error) {
	n.completeInbound(ctx, ev, continuum.Result{}, err)
}

// verifyIntegrity implements pipeline steps 2 and 3: events without a
// signature are rejected outright only when the node requires signed
// input; otherwise a present signature is still checked (garbage
// signatures are always rejected, enforced or not).
func (n *Node) verifyIntegrity(ev *causal.Event) error {
	if ev.Context.Integrity == nil {
		if n.requireIntegrity {
			return ErrMissingIntegrity
		}
		return nil
	}

	pub, err := identity.DecodePublicKey(ev.Context.Integrity.PublicKey)
	if err != nil {
		return err
	}
	meta := identity.SignedMetadata{
		ID:            ev.Context.Causal.ID,
		Sender:        ev.Context.Causal.Sender,
		Timestamp:     ev.Context.Causal.Timestamp,
		CausationID:   ev.Context.Causal.CausationID,
		CorrelationID: ev.Context.Causal.CorrelationID,
	}
	bytes, err := identity.SignBytes(ev.Type, ev.Payload, meta)
	if err != nil {
		return err
	}
	if !identity.Verify(pub, ev.Context.Integrity.Signature, bytes) {
		return ErrBadSignature
	}
	return nil
}

// signalPayload is the payload carried by a "_signal.<token>" event:
// the handler's outcome, in a form Send's ephemeral listener can
// recover without needing any schema beyond this package.
type signalPayload struct {
	Value    any    `json:"value,omitempty"`
	HasValue bool   `json:"hasValue"`
	Error    string `json:"error,omitempty"`
}

// decodeSignalReply unwraps the causal.Event envelope a "_signal.X"
// completion travels in and recovers the handler's Result.
func decodeSignalReply(data []byte) (continuum.Result, error) {
	var ev causal.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return continuum.Result{}, err
	}
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return continuum.Result{}, err
	}
	var reply signalPayload
	if err := json.Unmarshal(raw, &reply); err != nil {
		return continuum.Result{}, err
	}
	if reply.Error != "" {
		return continuum.Result{}, ErrRemoteHandler(reply.Error)
	}
	return continuum.Result{Value: reply.Value, HasValue: reply.HasValue}, nil
}
