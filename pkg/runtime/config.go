package runtime

import (
	"time"

	"github.com/arc-self/continuum/pkg/flowbalance"
)

// FabricConfig selects and configures the transport backing every node
// (spec §6 "fabric: {servers[], user?, pass?, token?, timeoutMs}").
type FabricConfig struct {
	// Backend selects the adapter: "nats" (default) or "mem" for an
	// in-process fabric with no broker, used by tests and local runs.
	Backend string   `yaml:"backend"`
	Servers []string `yaml:"servers"`
	User    string   `yaml:"user"`
	Pass    string   `yaml:"pass"`
	Token   string   `yaml:"token"`
	// TimeoutMs is the connect timeout in milliseconds (spec §6
	// "timeoutMs"); 0 lets natsfabric.Connect apply its own default.
	TimeoutMs int `yaml:"timeoutMs"`
}

func (f FabricConfig) timeout() time.Duration {
	if f.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(f.TimeoutMs) * time.Millisecond
}

// AuthenticationConfig controls the AuthN gate every node runs inbound
// events through (spec §6 "authentication: {enforced: bool}").
type AuthenticationConfig struct {
	Enforced bool `yaml:"enforced"`
}

// Config is the full set of recognised Initialise options (spec §6
// "Runtime configuration").
type Config struct {
	Fabric         FabricConfig         `yaml:"fabric"`
	Authentication AuthenticationConfig `yaml:"authentication"`
	FlowBalance    flowbalance.Config   `yaml:"flowBalance"`

	// Separator is the pattern-matcher token separator new nodes use by
	// default (spec §4.1); "." if empty.
	Separator string `yaml:"separator"`
	// DedupSize is the default duplicate-suppression LRU capacity for
	// new nodes (spec §4.3); causal.DefaultDedupSize if zero.
	DedupSize int `yaml:"dedupSize"`

	// HousekeepingCron schedules the runtime's own diagnostic
	// housekeeping tick (logs the registered node count); "@every 1m" if
	// empty.
	HousekeepingCron string `yaml:"housekeepingCron"`
}

func (c Config) separatorByte() byte {
	if c.Separator == "" {
		return '.'
	}
	return c.Separator[0]
}

func (c Config) housekeepingCron() string {
	if c.HousekeepingCron == "" {
		return "@every 1m"
	}
	return c.HousekeepingCron
}
