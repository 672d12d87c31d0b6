// Package node implements the per-node runtime (spec §4.6): the
// On/Emit/Send/Broadcast surface applications use, the accept-policy
// gate, and the authoritative eight-step inbound dispatch pipeline
// that ties causality, identity, security, pattern matching, and the
// continuum together.
//
// Grounded on the teacher's event_consumer.go/global_audit_consumer.go
// pattern (subscribe, decode, dedupe, dispatch, ack/nak) generalised
// from a single fixed pipeline into the spec's configurable gate
// sequence, and on packages/go-core/middleware for the request-scoped
// logging wrapped around each dispatch (no tracing spans are started
// here).
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/continuum"
	"github.com/arc-self/continuum/pkg/fabric"
	"github.com/arc-self/continuum/pkg/identity"
	"github.com/arc-self/continuum/pkg/pattern"
	"github.com/arc-self/continuum/pkg/security"
)

// TimeoutError is returned by SendResult.Return when no completion
// signal arrives within the requested window (spec §7).
type TimeoutError struct {
	Target string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node: send to %s timed out after %s", e.Target, e.Waited)
}

// DuplicateEventError is returned (informationally, via logs, never to
// the sender) when an inbound event's id has already been processed.
type DuplicateEventError struct{ ID string }

func (e *DuplicateEventError) Error() string { return "node: duplicate event " + e.ID }

// RejectedEventError wraps whichever stage of the inbound pipeline
// rejected an event: Stage "integrity" (missing or invalid signature)
// or "security" (a gate failure). Accept-policy refusals are logged
// with ErrSenderNotAccepted and are not wrapped in this type.
type RejectedEventError struct {
	Stage  string
	Reason error
}

func (e *RejectedEventError) Error() string {
	return fmt.Sprintf("node: event rejected at %s: %s", e.Stage, e.Reason)
}
func (e *RejectedEventError) Unwrap() error { return e.Reason }

// Subscription is one installed handler: a compiled pattern (or raw
// predicate) paired with the continuum entry point it dispatches into
// (spec §3).
type Subscription struct {
	id      int
	Matcher *pattern.Matcher
	Handler continuum.Handler
	// AcceptPolicy optionally narrows the node's accept policy for this
	// subscription alone: an event must pass both the node's policy and
	// this one. Nil means only the node's policy applies.
	AcceptPolicy *AcceptPolicy
}

// AcceptPolicy governs which senders a node (or one of its
// subscriptions) accepts inbound events from (spec §4.11).
type AcceptPolicy struct {
	// AcceptFrom matches against the sender's node id. A nil or empty
	// slice accepts from any sender, unless Accept is set.
	AcceptFrom []*pattern.Matcher
	// Accept, when non-nil, takes precedence over AcceptFrom entirely.
	Accept func(origin *causal.Origin, sender string) bool
}

func (p *AcceptPolicy) allows(sender string, origin *causal.Origin) bool {
	if p == nil {
		return true
	}
	if p.Accept != nil {
		return p.Accept(origin, sender)
	}
	if len(p.AcceptFrom) == 0 {
		return true
	}
	for _, m := range p.AcceptFrom {
		if m.Match(sender, nil) {
			return true
		}
	}
	return false
}

// Registry resolves a node id to a locally-hosted *Node, letting Send
// deliver in-process without a fabric round trip when the target
// shares this process (spec §4.6 "local-loop delivery" generalised to
// directed send). pkg/runtime supplies the concrete registry; tests
// may use a trivial map-backed one.
type Registry interface {
	Lookup(nodeID string) (*Node, bool)
}

// Options configure a new Node.
type Options struct {
	Identity     *identity.Identity
	Fabric       fabric.Fabric
	Registry     Registry
	Security     *security.Pipeline
	AcceptPolicy *AcceptPolicy
	Separator    byte // defaults to '.'
	DedupSize    int  // defaults to causal.DefaultDedupSize
	Logger       *zap.Logger
	Clock        func() time.Time
	// RequireIntegrity rejects inbound events with no Integrity block
	// (spec §4.6 step 2, "runtime configured for enforced
	// authentication"). Mirrors runtime.Config.Authentication.Enforced.
	RequireIntegrity bool
}

// Node is one event-driven participant (spec §3, §4.6).
type Node struct {
	id               string
	identity         *identity.Identity
	fabric           fabric.Fabric
	registry         Registry
	security         *security.Pipeline
	acceptPolicy     *AcceptPolicy
	separator        byte
	clock            func() time.Time
	logger           *zap.Logger
	requireIntegrity bool

	dedup *causal.Dedup
	state *state

	mu            sync.RWMutex
	subs          map[int]*Subscription
	nextSubID     int
	disposers     []fabric.Disposer
	sendWaiters   map[string]*sendWaiter
	closed        bool
}

// sendWaiter is the sender-side bookkeeping for one outstanding Send:
// the reply channel SendResult.Return blocks on, and the disposer for
// the ephemeral fabric subscription listening for the completion
// signal (spec §4.6 step 8, §6 "_signal.<token>").
type sendWaiter struct {
	ch      chan pendingReply
	dispose fabric.Disposer
}

type pendingReply struct {
	result continuum.Result
	err    error
}

// New constructs a Node bound to opts.Fabric. The node subscribes to
// its own broadcast and direct-delivery subjects immediately.
func New(id string, opts Options) (*Node, error) {
	if id == "" {
		return nil, errors.New("node: id must not be empty")
	}
	if opts.Fabric == nil {
		return nil, errors.New("node: fabric is required")
	}
	sep := opts.Separator
	if sep == 0 {
		sep = '.'
	}
	dedupSize := opts.DedupSize
	if dedupSize == 0 {
		dedupSize = causal.DefaultDedupSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	sec := opts.Security
	if sec == nil {
		sec = security.NewPipeline(&security.AuthNGate{Enforced: false})
	}

	n := &Node{
		id:               id,
		identity:         opts.Identity,
		fabric:           opts.Fabric,
		registry:         opts.Registry,
		security:         sec,
		acceptPolicy:     opts.AcceptPolicy,
		separator:        sep,
		clock:            clock,
		logger:           logger.With(zap.String("node", id)),
		requireIntegrity: opts.RequireIntegrity,
		dedup:            causal.NewDedup(dedupSize),
		state:            newState(),
		subs:             make(map[int]*Subscription),
		sendWaiters:      make(map[string]*sendWaiter),
	}

	broadcastDisposer, err := opts.Fabric.Subscribe(context.Background(), fabric.SubjectBroadcast, n.onWire)
	if err != nil {
		return nil, fmt.Errorf("node: subscribe to broadcast subject: %w", err)
	}
	n.disposers = append(n.disposers, broadcastDisposer)

	directSubject := directSubject(id)
	directDisposer, err := opts.Fabric.Subscribe(context.Background(), directSubject, n.onWire)
	if err != nil {
		broadcastDisposer()
		return nil, fmt.Errorf("node: subscribe to direct subject: %w", err)
	}
	n.disposers = append(n.disposers, directDisposer)

	return n, nil
}

// ID returns the node's stable identifier.
func (n *Node) ID() string { return n.id }

func directSubject(nodeID string) string {
	return "events.direct." + nodeID
}

// On installs a handler for events matching expr (compiled against the
// node's configured separator) and subscribes the node to the
// corresponding fabric subject. It returns a Disposer that removes the
// subscription (spec §4.6).
func (n *Node) On(expr string, handler continuum.Handler) (fabric.Disposer, error) {
	matcher, err := pattern.Compile(expr, n.separator)
	if err != nil {
		return nil, err
	}
	return n.installSubscription(matcher, handler, nil, n.subjectForPattern(expr))
}

// subjectForPattern maps a subscription expression to a fabric
// subject. A bare literal maps to its exact subject; a pattern
// carrying wildcard or brace syntax the fabric cannot express directly
// (spec §4.1's "{a,b,c}" alternation has no NATS-wildcard equivalent)
// falls back to the broad events subject with local pattern filtering
// at dispatch step 7 — correctness never depends on the subject match
// alone.
func (n *Node) subjectForPattern(expr string) string {
	if strings.HasPrefix(expr, fabric.SubjectSignalPrefix) {
		// Completion-signal subscriptions (spec §4.6 step 8, §6) live
		// on their own subject namespace, not under the ordinary
		// events.* prefix.
		return expr
	}
	if strings.ContainsAny(expr, "*{}") {
		return fabric.SubjectEventsPrefix + ">"
	}
	return fabric.SubjectForType(expr, n.separator)
}

// OnFunc installs a raw predicate matcher, bypassing pattern
// compilation entirely (spec §4.1). Because a function matcher cannot
// be translated into a fabric subject filter, OnFunc subscribes to the
// wildcard events subject and filters locally.
func (n *Node) OnFunc(fn pattern.FuncMatcher, handler continuum.Handler) (fabric.Disposer, error) {
	matcher := pattern.CompileFunc(fn)
	return n.installSubscription(matcher, handler, nil, fabric.SubjectEventsPrefix+">")
}

func (n *Node) installSubscription(matcher *pattern.Matcher, handler continuum.Handler, accept *AcceptPolicy, subject string) (fabric.Disposer, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrNodeShutdown
	}
	id := n.nextSubID
	n.nextSubID++
	sub := &Subscription{id: id, Matcher: matcher, Handler: handler, AcceptPolicy: accept}
	n.subs[id] = sub
	n.mu.Unlock()

	disposeFabric, err := n.fabric.Subscribe(context.Background(), subject, n.onWire)
	if err != nil {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
		return nil, fmt.Errorf("node: subscribe %q: %w", subject, err)
	}

	dispose := func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
		disposeFabric()
	}
	return dispose, nil
}

// ErrNodeShutdown is returned by On/Emit/Send/Broadcast once the node
// has been shut down (spec §7 LifecycleError).
var ErrNodeShutdown = errors.New("node: shut down")

// Shutdown disposes every subscription this node installed and cancels
// every outstanding Send awaiting a completion signal with a
// TimeoutError (spec §5 "shutdown() MUST cancel all pending responses
// with the same error"). It does not close the shared fabric, which
// may serve other nodes.
func (n *Node) Shutdown() {
	n.mu.Lock()
	disposers := n.disposers
	n.disposers = nil
	n.subs = make(map[int]*Subscription)
	waiters := n.sendWaiters
	n.sendWaiters = make(map[string]*sendWaiter)
	n.closed = true
	n.mu.Unlock()

	for _, d := range disposers {
		d()
	}
	for token, w := range waiters {
		w.dispose()
		select {
		case w.ch <- pendingReply{err: &TimeoutError{Target: token, Waited: 0}}:
		default:
		}
	}
}

func (n *Node) isClosed() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.closed
}

// onWire is the fabric.MessageHandler installed for every subject this
// node subscribes to. It decodes the wire event and runs it through
// the inbound pipeline.
func (n *Node) onWire(ctx context.Context, subject string, data []byte) error {
	var ev causal.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		n.logger.Warn("discarding malformed event", zap.String("subject", subject), zap.Error(err))
		return nil
	}
	n.dispatchInbound(ctx, &ev)
	return nil
}
