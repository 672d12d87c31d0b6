// Package runtime implements the lifecycle and factory surface of
// spec §4.12 (C11): Initialise connects the fabric, wires the shared
// security pipeline and flow-balance monitor, and returns a Runtime
// whose CreateNode/GetFabric/Shutdown are the embedding application's
// main entry points (Registry, NodeIDs and Monitor expose the rest).
//
// Grounded on every teacher app's cmd/api/main.go shape (connect
// broker → construct services → register handlers → signal.Notify
// graceful shutdown), generalised from a fixed per-app wiring sequence
// into a reusable factory.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arc-self/continuum/pkg/fabric"
	"github.com/arc-self/continuum/pkg/fabric/memfabric"
	"github.com/arc-self/continuum/pkg/fabric/natsfabric"
	"github.com/arc-self/continuum/pkg/flowbalance"
	"github.com/arc-self/continuum/pkg/identity"
	"github.com/arc-self/continuum/pkg/node"
	"github.com/arc-self/continuum/pkg/security"
)

// NodeOptions is the per-node slice of Initialise's config that
// CreateNode lets an embedder override (spec §4.12 "createNode(id,
// options)"). Fields left zero fall back to the runtime's defaults.
type NodeOptions struct {
	Identity         *identity.Identity
	AcceptPolicy     *node.AcceptPolicy
	Security         *security.Pipeline
	RequireIntegrity *bool
}

// Runtime is the live set of resources Initialise assembled: the
// fabric connection, the shared node registry, the default security
// pipeline, and (if enabled) the flow-balance monitor.
type Runtime struct {
	cfg       Config
	fabric    fabric.Fabric
	registry  *registry
	security  *security.Pipeline
	monitor   *flowbalance.Monitor
	cron      *cron.Cron
	logger    *zap.Logger
	separator byte
	dedupSize int

	shutOnce sync.Once
}

// Initialise connects to the configured fabric, starts the flow-
// balance monitor if enabled, and schedules housekeeping (spec §4.12).
func Initialise(ctx context.Context, cfg Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := connectFabric(cfg.Fabric, logger)
	if err != nil {
		return nil, fmt.Errorf("runtime: connect fabric: %w", err)
	}

	rt := &Runtime{
		cfg:       cfg,
		fabric:    f,
		registry:  newRegistry(),
		security:  security.NewPipeline(&security.AuthNGate{Enforced: cfg.Authentication.Enforced}),
		logger:    logger,
		separator: cfg.separatorByte(),
		dedupSize: cfg.DedupSize,
	}

	if cfg.FlowBalance.Enabled {
		monitor, err := flowbalance.New(cfg.FlowBalance, f, logger, nil)
		if err != nil {
			return nil, fmt.Errorf("runtime: start flow-balance monitor: %w", err)
		}
		monitor.Start(ctx)
		rt.monitor = monitor
	}

	rt.cron = cron.New()
	if _, err := rt.cron.AddFunc(cfg.housekeepingCron(), rt.housekeeping); err != nil {
		return nil, fmt.Errorf("runtime: schedule housekeeping: %w", err)
	}
	rt.cron.Start()

	return rt, nil
}

func connectFabric(cfg FabricConfig, logger *zap.Logger) (fabric.Fabric, error) {
	if cfg.Backend == "mem" {
		return memfabric.New(), nil
	}
	return natsfabric.Connect(natsfabric.Options{
		Servers: cfg.Servers,
		User:    cfg.User,
		Pass:    cfg.Pass,
		Token:   cfg.Token,
		Timeout: cfg.timeout(),
	}, logger)
}

// CreateNode constructs a Node bound to this runtime's fabric and
// registry, applies opts on top of the runtime's defaults, and
// registers it for local-loop Send delivery and view reads (spec
// §4.12, §4.6, §4.7).
func (rt *Runtime) CreateNode(id string, opts NodeOptions) (*node.Node, error) {
	sec := opts.Security
	if sec == nil {
		sec = rt.security
	}
	requireIntegrity := rt.cfg.Authentication.Enforced
	if opts.RequireIntegrity != nil {
		requireIntegrity = *opts.RequireIntegrity
	}

	n, err := node.New(id, node.Options{
		Identity:         opts.Identity,
		Fabric:           rt.fabric,
		Registry:         rt.registry,
		Security:         sec,
		AcceptPolicy:     opts.AcceptPolicy,
		Separator:        rt.separator,
		DedupSize:        rt.dedupSize,
		Logger:           rt.logger,
		RequireIntegrity: requireIntegrity,
	})
	if err != nil {
		return nil, err
	}

	rt.registry.add(n)
	return n, nil
}

// GetFabric returns the fabric connection this runtime owns, for
// embedders that need the admin surface or a direct Publish/Subscribe
// outside the node abstraction (spec §4.12).
func (rt *Runtime) GetFabric() fabric.Fabric {
	return rt.fabric
}

// Registry exposes the runtime's node.Registry, for pkg/views reads
// from outside the node abstraction (e.g. internal/platform/adminapi).
func (rt *Runtime) Registry() node.Registry {
	return rt.registry
}

// NodeIDs returns every node this runtime has created, in insertion
// order (spec §4.12's shutdown ordering applies to introspection too).
func (rt *Runtime) NodeIDs() []string {
	nodes := rt.registry.inInsertionOrder()
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	return ids
}

// Monitor returns the flow-balance monitor, or nil if flowBalance was
// not enabled in Config, for the admin HTTP plane's GET /flowbalance.
func (rt *Runtime) Monitor() *flowbalance.Monitor {
	return rt.monitor
}

// housekeeping is the runtime's own periodic diagnostic tick (spec
// §4.12's factory owning background upkeep), generalised from the
// teacher's notification-service cron job that emits a
// SYSTEM_EVENTS.cron.* tick into one that simply logs registry size —
// there is no downstream consumer for a runtime-internal tick, so it
// is surfaced as a structured log line rather than an event.
func (rt *Runtime) housekeeping() {
	nodes := rt.registry.inInsertionOrder()
	rt.logger.Info("runtime housekeeping", zap.Int("nodeCount", len(nodes)))
}

// Shutdown disposes nodes in insertion order, then the flow-balance
// monitor, then the fabric adapter (spec §4.12's exact ordering). It
// is idempotent.
func (rt *Runtime) Shutdown() {
	rt.shutOnce.Do(func() {
		if rt.cron != nil {
			<-rt.cron.Stop().Done()
		}
		for _, n := range rt.registry.inInsertionOrder() {
			n.Shutdown()
		}
		if rt.monitor != nil {
			rt.monitor.Stop()
		}
		if err := rt.fabric.Close(); err != nil {
			rt.logger.Warn("runtime: fabric close", zap.Error(err))
		}
	})
}
