// Package security implements the three-gate pipeline from spec §4.10:
// AuthN (signature verification), Schema (fingerprint comparison), and
// AuthZ (principal/permission policy with deny-priority overrides).
// A Pipeline runs its gates in the order they were passed to
// NewPipeline; the first failing gate rejects the event with a typed
// SecurityError.
//
// Grounded on packages/apisix-go-runner/plugins/authz.go's gate shape
// (verify → consult policy/cache → allow or fail-closed): the
// bearer-token/JWKS verification in that file is reused for the admin
// HTTP plane (internal/platform/adminapi), not here — spec.md's AuthN
// gate authenticates the event's Ed25519 signature, not a bearer
// token, so this package calls pkg/identity.Verify directly.
package security

import (
	"context"
	"fmt"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/identity"
)

// SecurityError is raised by any gate that rejects an event (spec §7).
type SecurityError struct {
	Gate   string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security: %s gate rejected event: %s", e.Gate, e.Reason)
}

// Gate is one stage of the pipeline.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, ev *causal.Event) error
}

// Pipeline runs its gates in registration order, stopping at the first
// failure.
type Pipeline struct {
	gates []Gate
}

// NewPipeline builds a pipeline that runs gates in the order given; it
// does not reorder them into AuthN → Schema → AuthZ (spec §4.10).
func NewPipeline(gates ...Gate) *Pipeline {
	return &Pipeline{gates: gates}
}

// Evaluate runs every gate in order; the first error short-circuits
// the rest.
func (p *Pipeline) Evaluate(ctx context.Context, ev *causal.Event) error {
	for _, g := range p.gates {
		if err := g.Evaluate(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// AuthNGate verifies the event's Ed25519 signature over its canonical
// signed-metadata-subset bytes (spec §4.2, §4.10 gate 1).
type AuthNGate struct {
	// Enforced rejects events with no Integrity block at all. When
	// false, unsigned events pass this gate (but still go through
	// Schema/AuthZ).
	Enforced bool
}

func (g *AuthNGate) Name() string { return "authn" }

func (g *AuthNGate) Evaluate(ctx context.Context, ev *causal.Event) error {
	if ev.Context.Integrity == nil {
		if g.Enforced {
			return &SecurityError{Gate: g.Name(), Reason: "unsigned event rejected under enforced authentication"}
		}
		return nil
	}

	pub, err := identity.DecodePublicKey(ev.Context.Integrity.PublicKey)
	if err != nil {
		return &SecurityError{Gate: g.Name(), Reason: "malformed public key: " + err.Error()}
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
		return &SecurityError{Gate: g.Name(), Reason: "canonicalisation failed: " + err.Error()}
	}

	if !identity.Verify(pub, ev.Context.Integrity.Signature, bytes) {
		return &SecurityError{Gate: g.Name(), Reason: "signature verification failed"}
	}
	return nil
}

// SchemaGate compares an event's causal.hash content fingerprint
// against the fingerprint registered for its type, when one is
// registered (spec §4.10 gate 2). Event types with no registered
// fingerprint pass unchecked.
type SchemaGate struct {
	registry map[string]string
}

// NewSchemaGate builds a SchemaGate from an initial type→hash map.
func NewSchemaGate(initial map[string]string) *SchemaGate {
	reg := make(map[string]string, len(initial))
	for k, v := range initial {
		reg[k] = v
	}
	return &SchemaGate{registry: reg}
}

func (g *SchemaGate) Name() string { return "schema" }

// Register sets the expected content fingerprint for an event type.
func (g *SchemaGate) Register(eventType, hash string) {
	g.registry[eventType] = hash
}

func (g *SchemaGate) Evaluate(ctx context.Context, ev *causal.Event) error {
	expected, ok := g.registry[ev.Type]
	if !ok {
		return nil
	}
	if ev.Context.Causal.Hash != expected {
		return &SecurityError{Gate: g.Name(), Reason: fmt.Sprintf("schema fingerprint mismatch for %q", ev.Type)}
	}
	return nil
}
