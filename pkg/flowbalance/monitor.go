package flowbalance

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-self/continuum/pkg/causal"
	"github.com/arc-self/continuum/pkg/fabric"
)

// monitorSender is the sender id flow-balance events are stamped with
// (spec §6 "system.*" subjects have no owning node).
const monitorSender = "flow-balance-monitor"

// Monitor is the periodic poll loop described in spec §4.9. Grounded
// on the teacher's ScanPoller.Run ticker loop, generalised from a
// Postgres query to fabric.Admin polling, and from single-job
// processing to per-tick cohort classification across every
// configured Target.
type Monitor struct {
	cfg    Config
	fabric fabric.Fabric
	admin  fabric.Admin
	logger *zap.Logger
	tracer trace.Tracer
	clock  func() time.Time
	metrics *metrics

	mu       sync.Mutex
	prev     map[string]fabric.ConsumerInfo
	states   map[string]*nodeState
	snapshot []Sample // most recent tick, for views/introspection
	cohortEmitted map[Pattern]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Monitor bound to f. It does not start polling until
// Start is called; f must expose an Admin surface (Admin() returning
// true) or New returns an error.
func New(cfg Config, f fabric.Fabric, logger *zap.Logger, reg prometheus.Registerer) (*Monitor, error) {
	admin, ok := f.Admin()
	if !ok {
		return nil, errNoAdmin
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:     cfg,
		fabric:  f,
		admin:   admin,
		logger:  logger.With(zap.String("component", "flowbalance")),
		tracer:  otel.Tracer("flowbalance"),
		clock:   time.Now,
		metrics: newMetrics(reg),
		prev:    make(map[string]fabric.ConsumerInfo),
		states:  make(map[string]*nodeState),
		cohortEmitted: make(map[Pattern]bool),
	}, nil
}

var errNoAdmin = &noAdminError{}

type noAdminError struct{}

func (e *noAdminError) Error() string { return "flowbalance: fabric exposes no admin surface" }

// Start launches the polling loop in a background goroutine; it
// returns immediately (spec §4.12 "starts the flow-balance monitor if
// enabled").
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	interval := m.cfg.pollingInterval()
	m.logger.Info("flow-balance monitor started", zap.Duration("interval", interval))

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("flow-balance monitor stopping")
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// Stop halts the polling loop and waits for the current tick, if any,
// to finish (spec §4.12 shutdown ordering: monitor stops before the
// fabric adapter).
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Snapshot returns the samples from the most recently completed poll
// tick, for the admin HTTP plane's GET /flowbalance.
func (m *Monitor) Snapshot() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.snapshot))
	copy(out, m.snapshot)
	return out
}

// tick is one poll cycle: sample every target independently (a single
// target's admin error never blocks the others, mirroring the
// teacher's per-job isolation in ScanPoller.poll), classify, and emit.
func (m *Monitor) tick(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "flowbalance.tick")
	defer span.End()

	samples := make([]Sample, 0, len(m.cfg.Targets))
	for _, target := range m.cfg.Targets {
		s, err := m.sampleTarget(ctx, target)
		if err != nil {
			m.logger.Warn("flow-balance sample failed", zap.String("target", targetKey(target)), zap.Error(err))
			continue
		}
		samples = append(samples, s)
		m.metrics.observe(s)
	}

	m.mu.Lock()
	m.snapshot = samples
	statuses := make(map[string]Status, len(samples))
	var nodePatterns []struct {
		sample  Sample
		pattern Pattern
		status  Status
	}
	for _, s := range samples {
		key := targetKey(s.Target)
		ns, ok := m.states[key]
		if !ok {
			ns = &nodeState{}
			m.states[key] = ns
		}
		instant := severityFor(s, m.cfg.Thresholds)
		status := ns.observe(instant)
		statuses[key] = status

		pattern := classifyNode(s, ns.prevSample, m.cfg.Thresholds)
		prevCopy := s
		ns.prevSample = &prevCopy

		if pattern != PatternNone && pattern != ns.lastEmittedPattern {
			nodePatterns = append(nodePatterns, struct {
				sample  Sample
				pattern Pattern
				status  Status
			}{s, pattern, status})
		}
		ns.lastEmittedPattern = pattern
	}
	cohort := classifyCohort(samples, statuses, m.cfg.Thresholds)

	emitPartition := cohort.Partition && !m.cohortEmitted[PatternPartition]
	emitOverload := cohort.Overload && !m.cohortEmitted[PatternOverload]
	m.cohortEmitted[PatternPartition] = cohort.Partition
	m.cohortEmitted[PatternOverload] = cohort.Overload
	m.mu.Unlock()

	for _, np := range nodePatterns {
		m.emitNodeDown(ctx, np.sample, np.pattern, np.status)
	}
	if emitPartition {
		m.emitSystemDown(ctx, PatternPartition, cohort.Lagging, samples, 0.7)
	}
	if emitOverload {
		m.emitSystemDown(ctx, PatternOverload, cohort.OverloadTargets, samples, 0.8)
	}
}

func (m *Monitor) sampleTarget(ctx context.Context, target Target) (Sample, error) {
	cur, err := m.admin.ConsumerInfo(ctx, target.Stream, target.Consumer)
	if err != nil {
		return Sample{}, err
	}
	if cur.SampledAt.IsZero() {
		cur.SampledAt = m.clock()
	}

	key := targetKey(target)
	m.mu.Lock()
	prev, hasPrev := m.prev[key]
	m.prev[key] = cur
	m.mu.Unlock()
	if !hasPrev {
		prev = cur
		prev.Delivered = cur.Delivered
		prev.Acked = cur.Acked
		prev.SampledAt = cur.SampledAt.Add(-m.cfg.pollingInterval())
	}

	return deriveSample(target, prev, cur), nil
}

func (m *Monitor) emitNodeDown(ctx context.Context, s Sample, pattern Pattern, status Status) {
	payload := NodeDownPayload{
		NodeID:     s.Target.NodeID,
		LagMetrics: lagMetricsFor(s),
		Pattern:    pattern,
		Severity:   status.String(),
	}
	m.publish(ctx, fabric.SubjectFlowBalancePrefix+string(pattern), EventNodeDown, payload)
}

func (m *Monitor) emitSystemDown(ctx context.Context, pattern Pattern, targets []Target, samples []Sample, confidence float64) {
	byTarget := make(map[string]Sample, len(samples))
	for _, s := range samples {
		byTarget[targetKey(s.Target)] = s
	}
	affected := make([]string, 0, len(targets))
	metrics := make([]LagMetrics, 0, len(targets))
	for _, t := range targets {
		affected = append(affected, t.NodeID)
		if s, ok := byTarget[targetKey(t)]; ok {
			metrics = append(metrics, lagMetricsFor(s))
		}
	}
	payload := SystemDownPayload{
		Level:         "system",
		Pattern:       pattern,
		AffectedNodes: affected,
		Metrics:       metrics,
		Confidence:    confidence,
	}
	m.publish(ctx, fabric.SubjectFlowBalancePrefix+string(pattern), EventSystemDown, payload)
}

func (m *Monitor) publish(ctx context.Context, subject, eventType string, payload any) {
	shell := causal.Event{Type: eventType, Payload: payload}
	causal.Stamp(&shell, monitorSender, nil, m.clock)

	data, err := json.Marshal(shell)
	if err != nil {
		m.logger.Error("failed to encode flow-balance event", zap.Error(err))
		return
	}
	if err := m.fabric.Publish(ctx, subject, data); err != nil {
		m.logger.Error("failed to publish flow-balance event", zap.String("subject", subject), zap.Error(err))
	}
}
