package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/identity"
)

func signedEvent(t *testing.T, id *identity.Identity, eventType string, payload any) *causal.Event {
	t.Helper()
	ev := &causal.Event{Type: eventType, Payload: payload}
	causal.Stamp(ev, id.NodeID, nil, nil)
	meta := identity.SignedMetadata{
		ID:            ev.Context.Causal.ID,
		Sender:        ev.Context.Causal.Sender,
		Timestamp:     ev.Context.Causal.Timestamp,
		CausationID:   ev.Context.Causal.CausationID,
		CorrelationID: ev.Context.Causal.CorrelationID,
	}
	bytes, err := identity.SignBytes(eventType, payload, meta)
	require.NoError(t, err)
	sig, err := identity.Sign(id.PrivateKey, bytes)
	require.NoError(t, err)
	ev.Context.Integrity = &causal.Integrity{
		Signature: sig,
		PublicKey: identity.EncodePublicKey(id.PublicKey),
	}
	return ev
}

func TestAuthNGate_AcceptsValidSignature(t *testing.T) {
	id, err := identity.New("node-a")
	require.NoError(t, err)
	ev := signedEvent(t, id, "order.created", map[string]any{"amount": 10})

	gate := &AuthNGate{Enforced: true}
	assert.NoError(t, gate.Evaluate(context.Background(), ev))
}

func TestAuthNGate_RejectsTamperedPayload(t *testing.T) {
	id, err := identity.New("node-a")
	require.NoError(t, err)
	ev := signedEvent(t, id, "order.created", map[string]any{"amount": 10})
	ev.Payload = map[string]any{"amount": 999}

	gate := &AuthNGate{Enforced: true}
	var secErr *SecurityError
	err = gate.Evaluate(context.Background(), ev)
	require.ErrorAs(t, err, &secErr)
	assert.Equal(t, "authn", secErr.Gate)
}

func TestAuthNGate_EnforcedRejectsUnsigned(t *testing.T) {
	ev := &causal.Event{Type: "order.created"}
	causal.Stamp(ev, "node-a", nil, nil)

	gate := &AuthNGate{Enforced: true}
	err := gate.Evaluate(context.Background(), ev)
	require.Error(t, err)
}

func TestAuthNGate_UnenforcedAllowsUnsigned(t *testing.T) {
	ev := &causal.Event{Type: "order.created"}
	causal.Stamp(ev, "node-a", nil, nil)

	gate := &AuthNGate{Enforced: false}
	assert.NoError(t, gate.Evaluate(context.Background(), ev))
}

func TestSchemaGate(t *testing.T) {
	gate := NewSchemaGate(nil)
	gate.Register("order.created", "abc123")

	ok := &causal.Event{Type: "order.created", Context: causal.Context{Causal: causal.Causal{Hash: "abc123"}}}
	assert.NoError(t, gate.Evaluate(context.Background(), ok))

	mismatch := &causal.Event{Type: "order.created", Context: causal.Context{Causal: causal.Causal{Hash: "wrong"}}}
	err := gate.Evaluate(context.Background(), mismatch)
	require.Error(t, err)

	unregistered := &causal.Event{Type: "order.shipped"}
	assert.NoError(t, gate.Evaluate(context.Background(), unregistered))
}

func TestAuthZGate_DenyOverridesLowerPriorityAllow(t *testing.T) {
	policy := NewAuthZPolicy(
		PolicyRule{Principal: "*", Permissions: []string{"order.create"}, Priority: 10},
		PolicyRule{Principal: "bad-actor", Permissions: []string{"order.create"}, Deny: true, Priority: 0},
	)
	gate := NewAuthZGate(policy, map[string]string{"order.created": "order.create"})

	allowed := &causal.Event{Type: "order.created", Context: causal.Context{Causal: causal.Causal{Sender: "node-a"}}}
	assert.NoError(t, gate.Evaluate(context.Background(), allowed))

	denied := &causal.Event{Type: "order.created", Context: causal.Context{Causal: causal.Causal{Sender: "bad-actor"}}}
	assert.Error(t, gate.Evaluate(context.Background(), denied))
}

func TestAuthZGate_NoRequirementPassesThrough(t *testing.T) {
	gate := NewAuthZGate(NewAuthZPolicy(), nil)
	ev := &causal.Event{Type: "order.viewed"}
	assert.NoError(t, gate.Evaluate(context.Background(), ev))
}

func TestAuthZGate_FailClosedWithNoMatchingRule(t *testing.T) {
	gate := NewAuthZGate(NewAuthZPolicy(), map[string]string{"order.created": "order.create"})
	ev := &causal.Event{Type: "order.created", Context: causal.Context{Causal: causal.Causal{Sender: "unknown"}}}
	assert.Error(t, gate.Evaluate(context.Background(), ev))
}

func TestPipeline_StopsAtFirstFailure(t *testing.T) {
	schema := NewSchemaGate(map[string]string{"order.created": "expected"})
	pipeline := NewPipeline(&AuthNGate{Enforced: false}, schema)

	ev := &causal.Event{Type: "order.created", Context: causal.Context{Causal: causal.Causal{Hash: "actual"}}}
	err := pipeline.Evaluate(context.Background(), ev)
	require.Error(t, err)
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Equal(t, "schema", secErr.Gate)
}
