package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPermissions reads a tool permission whitelist from a YAML file.
func LoadPermissions(path string) (PermissionConfig, error) {
	var cfg PermissionConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading permission file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing permission file: %w", err)
	}
	for _, p := range cfg.Permissions {
		if p.Name == "" {
			return cfg, fmt.Errorf("permission entries need a tool name")
		}
	}
	return cfg, nil
}
