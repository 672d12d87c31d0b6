// Package auditlog persists every event observed on the fabric's
// wildcard "events.>" subject hierarchy into an immutable Postgres
// audit trail. It is adapted from apps/audit-service's
// GlobalAuditConsumer (apps/audit-service/internal/consumer/global_audit_consumer.go):
// the same idempotent-insert-by-event-id guarantee and poison-pill vs
// transient-error split, repurposed from the teacher's CDC outbox
// envelope onto this repository's causal.Event wire format.
package auditlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the audit_logs table. event_id carries the
// UNIQUE constraint InsertRecord's ON CONFLICT clause relies on for
// idempotency under fabric redelivery.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	event_id       TEXT PRIMARY KEY,
	sender         TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	causation_id   TEXT,
	path           TEXT[] NOT NULL,
	payload        JSONB NOT NULL,
	occurred_at    TIMESTAMPTZ NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS audit_logs_correlation_idx ON audit_logs (correlation_id);
CREATE INDEX IF NOT EXISTS audit_logs_type_idx ON audit_logs (event_type);
`

// Record is one immutable row: a decoded causal.Event flattened for
// storage. Record and Store do not depend on pkg/causal; decoding
// from the wire (consumer.go) is the only place that imports it.
type Record struct {
	EventID       string
	Sender        string
	EventType     string
	CorrelationID string
	CausationID   string
	Path          []string
	Payload       []byte
	OccurredAt    time.Time
}

// Store persists Records. PGStore is the only implementation; the
// interface exists so Consumer can be tested with a fake.
type Store interface {
	InsertRecord(ctx context.Context, r Record) error
}

// PGStore is a pgxpool-backed Store, adapted from
// apps/discovery-service/internal/worker/scan_poller.go's
// pool-held-directly shape (no sqlc-generated querier layer here; the
// audit table has exactly one write path so a hand-written statement
// is clearer than a generated one).
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an already-connected pool. Callers are expected to
// have applied Schema (directly, or via their own migration tool)
// before first use.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// InsertRecord implements Store. ON CONFLICT DO NOTHING makes this
// safe to call repeatedly for the same event_id: fabric redelivery or
// a crash-and-resume both degrade to a harmless no-op row.
func (s *PGStore) InsertRecord(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs
			(event_id, sender, event_type, correlation_id, causation_id, path, payload, occurred_at)
		VALUES
			($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, r.EventID, r.Sender, r.EventType, r.CorrelationID, r.CausationID, r.Path, r.Payload, r.OccurredAt)
	if err != nil {
		return fmt.Errorf("auditlog: insert record %s: %w", r.EventID, err)
	}
	return nil
}
