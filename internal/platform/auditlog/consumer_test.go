package auditlog_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/continuum/internal/platform/auditlog"
	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/fabric/memfabric"
)

// fakeStore is an in-memory auditlog.Store for testing, standing in
// for the mock.MockQuerier gomock pattern the teacher's
// global_audit_consumer_test.go uses — a hand-written fake here
// since this Store interface has a single method.
type fakeStore struct {
	mu      sync.Mutex
	records []auditlog.Record
	failNext error
}

func (s *fakeStore) InsertRecord(_ context.Context, r auditlog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.records = append(s.records, r)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func validEvent() causal.Event {
	ev := causal.Event{Type: "order.created", Payload: map[string]any{"sku": "widget"}}
	causal.Stamp(&ev, "node-a", nil, nil)
	return ev
}

func TestConsumerPersistsValidEvent(t *testing.T) {
	f := memfabric.New()
	store := &fakeStore{}
	c := auditlog.NewConsumer(f, store, zaptest.NewLogger(t))

	dispose, err := c.Start(context.Background())
	require.NoError(t, err)
	defer dispose()

	ev := validEvent()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, f.Publish(context.Background(), "events.order.created", data))

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, time.Millisecond)

	rec := store.records[0]
	assert.Equal(t, ev.Context.Causal.ID, rec.EventID)
	assert.Equal(t, "node-a", rec.Sender)
	assert.Equal(t, "order.created", rec.EventType)
	assert.Equal(t, ev.Context.Causal.ID, rec.CorrelationID)
}

func TestConsumerDropsMalformedEvent(t *testing.T) {
	f := memfabric.New()
	store := &fakeStore{}
	c := auditlog.NewConsumer(f, store, zaptest.NewLogger(t))

	dispose, err := c.Start(context.Background())
	require.NoError(t, err)
	defer dispose()

	require.NoError(t, f.Publish(context.Background(), "events.broken", []byte(`{bad`)))
	require.NoError(t, f.Publish(context.Background(), "events.no-id", []byte(`{"type":"x"}`)))

	// Give the subscriber a moment to process, then assert nothing landed.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, store.count())
}

func TestConsumerSurfacesTransientStoreError(t *testing.T) {
	f := memfabric.New()
	store := &fakeStore{failNext: errors.New("connection reset")}
	c := auditlog.NewConsumer(f, store, zaptest.NewLogger(t))

	dispose, err := c.Start(context.Background())
	require.NoError(t, err)
	defer dispose()

	ev := validEvent()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, f.Publish(context.Background(), "events.order.created", data))

	// The failed attempt is logged, not retried by the consumer itself
	// (spec §4.4's MessageHandler contract); a second publish of the
	// same event succeeds once the transient failure clears.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, store.count())

	require.NoError(t, f.Publish(context.Background(), "events.order.created", data))
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, time.Millisecond)
}
