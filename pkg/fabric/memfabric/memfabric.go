// Package memfabric is an in-process fabric.Fabric implementation used
// by this repository's own tests (pkg/node, pkg/confluence,
// pkg/flowbalance, pkg/runtime) so they can exercise real dispatch
// logic without a running broker, and by pkg/runtime as its "mem"
// backend. It is not a mock in the gomock
// sense — it is a minimal, real fabric, the same way
// the teacher's tests depend on sqlite/gomock stand-ins for Postgres
// rather than bare stubs.
package memfabric

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/arc-self/continuum/pkg/fabric"
)

type subscriber struct {
	pattern *regexp.Regexp
	handler fabric.MessageHandler
}

// Fabric is a process-local pub/sub fan-out. Publish runs each matching
// handler in its own goroutine, so delivery is asynchronous and the
// order in which handlers run is not defined.
type Fabric struct {
	mu          sync.RWMutex
	subs        map[int]subscriber
	nextID      int
	closed      bool
	replyTarget map[string]chan []byte // subject -> reply channel, for Request/reply tests

	admin *Admin
}

// New creates a ready-to-use in-memory fabric.
func New() *Fabric {
	return &Fabric{
		subs:        make(map[int]subscriber),
		replyTarget: make(map[string]chan []byte),
		admin:       NewAdmin(),
	}
}

func subjectToRegexp(subject string) *regexp.Regexp {
	// NATS-style wildcard: "*" one token, ">" the rest. Translated to a
	// plain regex over dot-separated tokens for the in-memory fan-out.
	parts := strings.Split(subject, ".")
	var b strings.Builder
	b.WriteString("^")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`\.`)
		}
		switch p {
		case "*":
			b.WriteString(`[^.]+`)
		case ">":
			b.WriteString(`.+`)
		default:
			b.WriteString(regexp.QuoteMeta(p))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// Publish implements fabric.Fabric.
func (f *Fabric) Publish(ctx context.Context, subject string, payload []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return fabric.ErrDisconnected
	}
	for _, sub := range f.subs {
		if sub.pattern.MatchString(subject) {
			go func(h fabric.MessageHandler) {
				_ = h(ctx, subject, payload)
			}(sub.handler)
		}
	}
	if ch, ok := f.replyTarget[subject]; ok {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe implements fabric.Fabric.
func (f *Fabric) Subscribe(ctx context.Context, subject string, handler fabric.MessageHandler) (fabric.Disposer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = subscriber{pattern: subjectToRegexp(subject), handler: handler}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}, nil
}

// Request implements fabric.Fabric: it publishes to subject and waits
// for a reply published to the same subject via a registered
// reply-waiter, modelling NATS's inbox-based request/reply well enough
// for unit tests.
func (f *Fabric) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	ch := make(chan []byte, 1)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fabric.ErrDisconnected
	}
	f.replyTarget[subject] = ch
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.replyTarget, subject)
		f.mu.Unlock()
	}()

	// The request itself goes to subscribers only; the reply-waiter
	// receives later publishes to subject, never its own request.
	f.mu.RLock()
	for _, sub := range f.subs {
		if sub.pattern.MatchString(subject) {
			go func(h fabric.MessageHandler) { _ = h(ctx, subject, payload) }(sub.handler)
		}
	}
	f.mu.RUnlock()

	select {
	case reply := <-ch:
		return reply, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("memfabric: request to %s timed out", subject)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Admin implements fabric.Fabric.
func (f *Fabric) Admin() (fabric.Admin, bool) { return f.admin, true }

// Close implements fabric.Fabric.
func (f *Fabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
