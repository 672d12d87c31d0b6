// Package fabric defines the pluggable broker abstraction (spec §4.4):
// publish/subscribe/request/reply plus an admin surface the flow-balance
// monitor polls for consumer lag. The core runtime depends only on this
// interface; pkg/fabric/natsfabric provides the broker-backed
// implementation (see DESIGN.md for why NATS JetStream was chosen over
// the pack's other broker-shaped candidates), and pkg/runtime can also
// wire the in-process pkg/fabric/memfabric as its "mem" backend.
package fabric

import (
	"context"
	"errors"
	"time"
)

// TransportError wraps a fabric-level failure (spec §7). It surfaces
// at Publish/Subscribe/Request exactly as spec.md requires.
type TransportError struct {
	Op     string
	Subject string
	Err    error
}

func (e *TransportError) Error() string {
	return "fabric: " + e.Op + " " + e.Subject + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrDisconnected is returned by Publish/Request while the adapter is
// reconnecting; publishes fail fast during a disconnect per spec §4.4.
var ErrDisconnected = errors.New("fabric: disconnected")

// Disposer cancels a subscription.
type Disposer func()

// MessageHandler processes one inbound message. Returning an error
// does not retry delivery at the fabric layer — what happens to a
// failed or malformed message is up to the consumer (pkg/node drops
// undecodable messages and never retries), in place of the teacher's
// Ack/Nak/Term split in apps/audit-service and apps/notification-service.
type MessageHandler func(ctx context.Context, subject string, data []byte) error

// Admin is the subset of broker administrative operations the
// flow-balance monitor needs (spec §4.4, §4.9).
type Admin interface {
	// ConsumerInfo returns lag/delivery metrics for one named consumer
	// on a stream.
	ConsumerInfo(ctx context.Context, stream, consumer string) (ConsumerInfo, error)
	// StreamInfo returns aggregate metrics for a durable stream.
	StreamInfo(ctx context.Context, stream string) (StreamInfo, error)
	// ListConsumers enumerates all known consumer names on a stream.
	ListConsumers(ctx context.Context, stream string) ([]string, error)
}

// ConsumerInfo is the admin-surface snapshot flow-balance samples on
// each poll tick.
type ConsumerInfo struct {
	Stream          string
	Consumer        string
	NumPending      uint64 // messages waiting to be delivered
	NumAckPending   uint64 // delivered, awaiting ack
	NumRedelivered  uint64 // redelivery count (maps to deliveryFailures)
	Delivered       uint64 // total delivered since creation
	Acked           uint64 // total acked since creation
	SampledAt       time.Time
}

// StreamInfo is aggregate information about a durable stream.
type StreamInfo struct {
	Name     string
	Messages uint64
	Bytes    uint64
}

// Fabric is the pluggable broker abstraction (spec §4.4).
type Fabric interface {
	// Publish is fire-and-forget. Subjects routed through a durable
	// channel (see IsPersistentSubject) are published with delivery
	// confirmation; others MAY use best-effort delivery.
	Publish(ctx context.Context, subject string, payload []byte) error

	// Subscribe fans out every message on subject to handler. Returns
	// a Disposer that cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Disposer, error)

	// Request publishes payload and waits up to timeout for a single
	// reply.
	Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error)

	// Admin exposes the broker's administrative surface, used by
	// pkg/flowbalance. Returns nil, false if the backend has none.
	Admin() (Admin, bool)

	// Close releases all fabric resources.
	Close() error
}

// IsPersistentSubject reports whether subject must be routed through
// the fabric's durable channel, per spec §4.4: subjects beginning with
// "state." or "events." or containing ".persistent." are durable;
// everything else MAY be best-effort.
func IsPersistentSubject(subject string) bool {
	if hasPrefix(subject, "state.") || hasPrefix(subject, "events.") {
		return true
	}
	return contains(subject, ".persistent.")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Subject naming helpers (spec §6, "illustrative" subject scheme).
const (
	SubjectEventsPrefix    = "events."
	SubjectBroadcast       = "events.broadcast"
	SubjectSignalPrefix    = "_signal."
	SubjectFlowBalancePrefix = "system.flow-balance."
)

// SubjectForType maps an event type to its ordinary-delivery subject,
// substituting separator for '.' when they differ (spec §6).
func SubjectForType(eventType string, separator byte) string {
	if separator == '.' {
		return SubjectEventsPrefix + eventType
	}
	normalised := make([]byte, len(eventType))
	for i := 0; i < len(eventType); i++ {
		if eventType[i] == separator {
			normalised[i] = '.'
		} else {
			normalised[i] = eventType[i]
		}
	}
	return SubjectEventsPrefix + string(normalised)
}

// SubjectForSignal builds the synthetic request/reply subject for a
// signalOnCompletion token (spec §4.6 step 8, §6).
func SubjectForSignal(token string) string {
	return SubjectSignalPrefix + token
}
