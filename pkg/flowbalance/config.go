// Package flowbalance implements the flow-balance monitor (spec §4.9,
// C9): periodic polling of the fabric's admin surface, derivation of
// per-consumer lag/rate metrics, pattern classification, and
// healthy/degraded/unhealthy hysteresis, emitting node.down and
// system.down events.
//
// Grounded on the teacher's apps/discovery-service/internal/worker/scan_poller.go
// ticker-driven "poll → diff → act" loop, generalised from a single
// Postgres query into polling an arbitrary set of (stream, consumer)
// pairs through the fabric.Admin interface, with Prometheus gauges
// (cuemby-warren/pkg/metrics style) recording the derived rates.
package flowbalance

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds configures the lag/rate boundaries pattern detection
// compares samples against (spec §4.9, §6 runtime configuration
// "flowBalance.thresholds"). All lag values are message counts.
type Thresholds struct {
	MinorLag          uint64        `yaml:"minorLag"`
	ModerateLag       uint64        `yaml:"moderateLag"`
	SevereLag         uint64        `yaml:"severeLag"`
	CriticalLag       uint64        `yaml:"criticalLag"`
	MaxProcessingTime time.Duration `yaml:"maxProcessingTime"`
	MinAckRate        float64       `yaml:"minAckRate"`
}

// UnmarshalYAML decodes Thresholds, accepting maxProcessingTime as a
// Go duration string ("30s") rather than a bare integer: yaml.v3 has
// no built-in string→time.Duration conversion, so this mirrors the
// string-duration convention spec §6's own example config uses.
func (t *Thresholds) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		MinorLag          uint64  `yaml:"minorLag"`
		ModerateLag       uint64  `yaml:"moderateLag"`
		SevereLag         uint64  `yaml:"severeLag"`
		CriticalLag       uint64  `yaml:"criticalLag"`
		MaxProcessingTime string  `yaml:"maxProcessingTime"`
		MinAckRate        float64 `yaml:"minAckRate"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*t = Thresholds{
		MinorLag:    raw.MinorLag,
		ModerateLag: raw.ModerateLag,
		SevereLag:   raw.SevereLag,
		CriticalLag: raw.CriticalLag,
		MinAckRate:  raw.MinAckRate,
	}
	if raw.MaxProcessingTime != "" {
		d, err := time.ParseDuration(raw.MaxProcessingTime)
		if err != nil {
			return fmt.Errorf("flowbalance: maxProcessingTime: %w", err)
		}
		t.MaxProcessingTime = d
	}
	return nil
}

// DefaultThresholds mirrors the documented defaults from spec §4.9.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinorLag:          100,
		ModerateLag:       500,
		SevereLag:         2000,
		CriticalLag:       5000,
		MaxProcessingTime: 30 * time.Second,
		MinAckRate:        0.9,
	}
}

// Config configures a Monitor.
type Config struct {
	// Enabled mirrors runtime config's flowBalance.enabled; when false,
	// pkg/runtime never starts a Monitor at all.
	Enabled bool `yaml:"enabled"`
	// PollingInterval is how often the admin surface is sampled.
	// Defaults to 5s (spec §4.9 "default a few seconds").
	PollingInterval time.Duration `yaml:"pollingInterval"`
	Thresholds      Thresholds    `yaml:"thresholds"`
	// Targets enumerates the (stream, consumer) pairs to poll. They
	// are taken as given from configuration (or set directly by
	// tests); pkg/runtime does not derive them from its nodes.
	Targets []Target `yaml:"targets"`
}

// Target identifies one consumer to sample each tick.
type Target struct {
	Stream   string `yaml:"stream"`
	Consumer string `yaml:"consumer"`
	// NodeID is the node this consumer represents, used to populate
	// node.down's nodeId field.
	NodeID string `yaml:"nodeId"`
}

// UnmarshalYAML decodes Config, accepting pollingInterval as a Go
// duration string for the same reason Thresholds does.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Enabled         bool       `yaml:"enabled"`
		PollingInterval string     `yaml:"pollingInterval"`
		Thresholds      Thresholds `yaml:"thresholds"`
		Targets         []Target   `yaml:"targets"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*c = Config{
		Enabled:    raw.Enabled,
		Thresholds: raw.Thresholds,
		Targets:    raw.Targets,
	}
	if raw.PollingInterval != "" {
		d, err := time.ParseDuration(raw.PollingInterval)
		if err != nil {
			return fmt.Errorf("flowbalance: pollingInterval: %w", err)
		}
		c.PollingInterval = d
	}
	return nil
}

func (c Config) pollingInterval() time.Duration {
	if c.PollingInterval <= 0 {
		return 5 * time.Second
	}
	return c.PollingInterval
}
