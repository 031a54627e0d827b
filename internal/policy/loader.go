package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"aegis/internal/patterns"
)

// fileRule mirrors the YAML rule shape. isActive defaults to true when
// omitted, which a plain bool cannot express.
type fileRule struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Category    string    `yaml:"category"`
	Severity    string    `yaml:"severity"`
	Action      string    `yaml:"action"`
	IsActive    *bool     `yaml:"isActive"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

type policyFile struct {
	Version int        `yaml:"version"`
	Rules   []fileRule `yaml:"rules"`
}

// LoadDir reads every .yaml/.yml file in dir and installs the rules as the
// store's file-sourced set. Returns the number of rules loaded.
func LoadDir(store *Store, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading policy dir: %w", err)
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		loaded, err := loadFile(path)
		if err != nil {
			return 0, fmt.Errorf("policy file %s: %w", entry.Name(), err)
		}
		rules = append(rules, loaded...)
	}

	if err := store.ReplaceFileRules(rules); err != nil {
		return 0, err
	}
	slog.Info("policy directory loaded", "dir", dir, "rules", len(rules))
	return len(rules), nil
}

func loadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for _, fr := range doc.Rules {
		active := true
		if fr.IsActive != nil {
			active = *fr.IsActive
		}
		rules = append(rules, Rule{
			ID:          fr.ID,
			Name:        fr.Name,
			Description: fr.Description,
			Category:    patterns.ThreatType(fr.Category),
			Severity:    patterns.RiskLevel(fr.Severity),
			Action:      Action(fr.Action),
			IsActive:    active,
			Priority:    fr.Priority,
			Patterns:    fr.Patterns,
		})
	}
	return rules, nil
}
