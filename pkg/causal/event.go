// Package causal defines the event envelope and the causality stamping
// rules described in spec §3 and §4.3: every event carries an id, a
// sender, a traversal path, and optional causation/correlation links
// back to the event that caused it.
package causal

import (
	"time"

	"github.com/google/uuid"
)

// Origin identifies the original source of an interaction, independent
// of the immediate sender. It is copied unchanged end-to-end.
type Origin struct {
	SourceID   string `json:"sourceId"`
	SourceType string `json:"sourceType"`
}

// Integrity carries the cryptographic signature attached to an
// authenticated event.
type Integrity struct {
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

// Causal is the causality metadata stamped on every event at emit time.
type Causal struct {
	ID            string    `json:"id"`
	Sender        string    `json:"sender"`
	Timestamp     int64     `json:"timestamp"`
	Path          []string  `json:"path"`
	CausationID   string    `json:"causationId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Hash          string    `json:"hash,omitempty"`
}

// Context is the full context attached to an event.
type Context struct {
	Causal    Causal            `json:"causal"`
	Origin    *Origin           `json:"origin,omitempty"`
	Integrity *Integrity        `json:"integrity,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// Event is the triple {type, payload, context} from spec §3.
type Event struct {
	Type    string  `json:"type"`
	Payload any     `json:"payload"`
	Context Context `json:"context"`
}

// SignalOnCompletion returns the signal token requested via
// metadata.signalOnCompletion, and whether one was present.
func (e *Event) SignalOnCompletion() (string, bool) {
	if e.Context.Metadata == nil {
		return "", false
	}
	v, ok := e.Context.Metadata["signalOnCompletion"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// NewID generates a fresh globally-unique causal id.
func NewID() string {
	return uuid.NewString()
}

// Stamp fills in the causal envelope for a freshly emitted event
// shell. inbound is the event whose handler is emitting this one (nil
// for a top-level emit). sender is the id of the node doing the
// emitting.
func Stamp(shell *Event, sender string, inbound *Event, clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	id := NewID()
	path := []string{sender}
	var causationID, correlationID string
	if inbound != nil {
		causationID = inbound.Context.Causal.ID
		correlationID = inbound.Context.Causal.CorrelationID
		if correlationID == "" {
			correlationID = inbound.Context.Causal.ID
		}
	}
	shell.Context.Causal = Causal{
		ID:            id,
		Sender:        sender,
		Timestamp:     clock().UnixMilli(),
		Path:          path,
		CausationID:   causationID,
		CorrelationID: correlationID,
	}
	if correlationID == "" {
		shell.Context.Causal.CorrelationID = id
	}
}
