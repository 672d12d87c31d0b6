package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/fabric"
)

// WildcardSubject is the primary fabric subscription this consumer
// installs: every ordinary event, across every node and every type,
// per spec §6's "events.<type>" subject scheme.
const WildcardSubject = "events.>"

// FlowBalanceSubject additionally captures every node.down/system.down
// pattern emission (spec §4.9), so a bottleneck or partition detection
// leaves the same durable trail as a domain event — flow-balance
// publishes under "system.flow-balance.<pattern>" (spec §6), outside
// the "events." namespace WildcardSubject covers.
const FlowBalanceSubject = fabric.SubjectFlowBalancePrefix + ">"

// Consumer subscribes to WildcardSubject and FlowBalanceSubject and
// writes every event it observes into a Store, mirroring
// GlobalAuditConsumer's "one consumer group sees the entire
// platform's event traffic" role but over this runtime's
// fabric.Fabric abstraction instead of a JetStream pull subscription
// directly.
type Consumer struct {
	fabric fabric.Fabric
	store  Store
	logger *zap.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(f fabric.Fabric, store Store, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{fabric: f, store: store, logger: logger}
}

// Start installs both subscriptions and returns a single disposer
// that cancels them both, matching every other subscribe-returns-
// disposer call in this codebase (pkg/node.Node.On,
// fabric.Fabric.Subscribe).
func (c *Consumer) Start(ctx context.Context) (fabric.Disposer, error) {
	disposeEvents, err := c.fabric.Subscribe(ctx, WildcardSubject, c.handle)
	if err != nil {
		return nil, fmt.Errorf("auditlog: subscribe %s: %w", WildcardSubject, err)
	}
	disposeFlowBalance, err := c.fabric.Subscribe(ctx, FlowBalanceSubject, c.handle)
	if err != nil {
		disposeEvents()
		return nil, fmt.Errorf("auditlog: subscribe %s: %w", FlowBalanceSubject, err)
	}
	c.logger.Info("audit consumer subscribed",
		zap.String("events", WildcardSubject),
		zap.String("flowBalance", FlowBalanceSubject))
	return func() {
		disposeEvents()
		disposeFlowBalance()
	}, nil
}

// handle implements fabric.MessageHandler. Per fabric's documented
// contract, returning an error here does not cause fabric-level
// retry; it is only surfaced to the fabric adapter's own log. Poison
// pills (malformed envelopes) are dropped with a Warn; transient
// store failures are logged as Error and returned, matching
// GlobalAuditConsumer's Term()-vs-Nak() split minus the JetStream
// redelivery PullSubscribe gave the teacher — this subscription is
// best-effort by design, since spec §4.4 never promises ordered
// redelivery on a plain Subscribe.
func (c *Consumer) handle(ctx context.Context, subject string, data []byte) error {
	rec, err := decodeRecord(data)
	if err != nil {
		c.logger.Warn("dropping unparseable audit event",
			zap.String("subject", subject), zap.Error(err))
		return nil
	}

	if err := c.store.InsertRecord(ctx, rec); err != nil {
		c.logger.Error("failed to persist audit record",
			zap.String("subject", subject),
			zap.String("eventId", rec.EventID),
			zap.Error(err))
		return err
	}
	return nil
}

// decodeRecord unmarshals the wire bytes as a causal.Event and
// flattens it into a Record. event_id and sender are mandatory for
// the table's primary key and its NOT NULL sender column
// respectively; their absence marks the message a poison pill.
func decodeRecord(data []byte) (Record, error) {
	var ev causal.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Record{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.Context.Causal.ID == "" {
		return Record{}, fmt.Errorf("missing causal.id")
	}
	if ev.Context.Causal.Sender == "" {
		return Record{}, fmt.Errorf("missing causal.sender")
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal payload: %w", err)
	}

	correlationID := ev.Context.Causal.CorrelationID
	if correlationID == "" {
		correlationID = ev.Context.Causal.ID
	}

	return Record{
		EventID:       ev.Context.Causal.ID,
		Sender:        ev.Context.Causal.Sender,
		EventType:     ev.Type,
		CorrelationID: correlationID,
		CausationID:   ev.Context.Causal.CausationID,
		Path:          ev.Context.Causal.Path,
		Payload:       payload,
		OccurredAt:    time.UnixMilli(ev.Context.Causal.Timestamp).UTC(),
	}, nil
}
