package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arc-self/continuum/pkg/runtime"
)

// Load decodes a runtime.Config from a YAML file at path (spec §6
// "Runtime configuration"). Fields absent from the file keep
// runtime.Config's zero values, which the accessors that read them
// (pkg/runtime's separatorByte and housekeepingCron, pkg/flowbalance's
// pollingInterval) already default sensibly.
func Load(path string) (runtime.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return runtime.Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg runtime.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return runtime.Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
