// Package policy holds the rule store and the advanced pattern evaluator.
// Rules combine regex, semantic, ML, and composite patterns; the store keeps
// them priority-sorted, snapshots versions, and supports rollback.
package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"aegis/internal/patterns"
)

// Action decides what a matching rule does to the request.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// PatternKind is the closed set of pattern variants.
type PatternKind string

const (
	PatternRegex     PatternKind = "regex"
	PatternSemantic  PatternKind = "semantic"
	PatternML        PatternKind = "ml"
	PatternComposite PatternKind = "composite"
)

// Composite operators.
const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
	OperatorNot = "NOT"
)

// maxCompositeDepth bounds composite nesting.
const maxCompositeDepth = 8

// Pattern is a tagged variant. Value carries the regex source, the semantic
// intent, or the ML model name depending on Type. Composite patterns carry
// sub-patterns and an operator instead.
type Pattern struct {
	Type       PatternKind `yaml:"type" json:"type"`
	Value      string      `yaml:"value,omitempty" json:"value,omitempty"`
	Flags      string      `yaml:"flags,omitempty" json:"flags,omitempty"`
	Threshold  float64     `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	References []string    `yaml:"references,omitempty" json:"references,omitempty"`
	Labels     []string    `yaml:"labels,omitempty" json:"labels,omitempty"`
	Operator   string      `yaml:"operator,omitempty" json:"operator,omitempty"`
	Patterns   []Pattern   `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// Rule is one policy rule. Mutations increment Version and refresh
// UpdatedAt; the store keeps rules sorted by Priority descending.
type Rule struct {
	ID          string              `yaml:"id" json:"id"`
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Category    patterns.ThreatType `yaml:"category,omitempty" json:"category"`
	Severity    patterns.RiskLevel  `yaml:"severity,omitempty" json:"severity"`
	Action      Action              `yaml:"action,omitempty" json:"action"`
	IsActive    bool                `yaml:"isActive" json:"isActive"`
	Priority    int                 `yaml:"priority,omitempty" json:"priority"`
	Patterns    []Pattern           `yaml:"patterns" json:"patterns"`
	Version     int                 `yaml:"-" json:"version"`
	CreatedAt   time.Time           `yaml:"-" json:"createdAt"`
	UpdatedAt   time.Time           `yaml:"-" json:"updatedAt"`

	// Source is "file" for rules loaded from a policy directory and empty
	// for rules created over the API. Reload replaces only file rules.
	Source string `yaml:"-" json:"-"`
}

// Version is an immutable snapshot of the rule list.
type Version struct {
	VersionID   string    `json:"versionId"`
	Version     int       `json:"version"`
	Rules       []Rule    `json:"rules"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	Description string    `json:"description,omitempty"`
}

var validSeverities = map[patterns.RiskLevel]bool{
	patterns.RiskLow:      true,
	patterns.RiskMedium:   true,
	patterns.RiskHigh:     true,
	patterns.RiskCritical: true,
}

var validActions = map[Action]bool{
	ActionAllow: true,
	ActionWarn:  true,
	ActionBlock: true,
}

// normalize fills rule defaults in place.
func (r *Rule) normalize() {
	if r.Severity == "" {
		r.Severity = patterns.RiskMedium
	}
	if r.Action == "" {
		r.Action = ActionBlock
	}
}

// validate rejects malformed rules before they enter the store.
func (r *Rule) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule needs a name")
	}
	if !validSeverities[r.Severity] {
		return fmt.Errorf("rule %q: unknown severity %q", r.Name, r.Severity)
	}
	if !validActions[r.Action] {
		return fmt.Errorf("rule %q: unknown action %q", r.Name, r.Action)
	}
	if len(r.Patterns) == 0 {
		return fmt.Errorf("rule %q: needs at least one pattern", r.Name)
	}
	for i := range r.Patterns {
		if err := r.Patterns[i].validate(1); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	return nil
}

func (p *Pattern) validate(depth int) error {
	if depth > maxCompositeDepth {
		return fmt.Errorf("composite nesting exceeds depth %d", maxCompositeDepth)
	}
	switch p.Type {
	case PatternRegex:
		if _, err := compileRegex(p.Value, p.Flags); err != nil {
			return fmt.Errorf("regex pattern %q: %w", p.Value, err)
		}
	case PatternSemantic:
		if p.Value == "" {
			return fmt.Errorf("semantic pattern needs an intent value")
		}
	case PatternML:
		if p.Value == "" {
			return fmt.Errorf("ml pattern needs a model name")
		}
	case PatternComposite:
		switch p.Operator {
		case OperatorAnd, OperatorOr:
			if len(p.Patterns) == 0 {
				return fmt.Errorf("composite %s needs sub-patterns", p.Operator)
			}
		case OperatorNot:
			if len(p.Patterns) != 1 {
				return fmt.Errorf("composite NOT needs exactly one sub-pattern")
			}
		default:
			return fmt.Errorf("unknown composite operator %q", p.Operator)
		}
		for i := range p.Patterns {
			if err := p.Patterns[i].validate(depth + 1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown pattern type %q", p.Type)
	}
	return nil
}

// compileRegex maps regex101-style flag letters onto Go's inline groups.
func compileRegex(expr, flags string) (*regexp.Regexp, error) {
	var inline string
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			inline += string(f)
		}
	}
	if inline != "" {
		expr = "(?" + inline + ")" + expr
	}
	return regexp.Compile(expr)
}

// deepCopyRules clones the rule slice including nested patterns.
func deepCopyRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = r
		out[i].Patterns = deepCopyPatterns(r.Patterns)
	}
	return out
}

func deepCopyPatterns(ps []Pattern) []Pattern {
	if ps == nil {
		return nil
	}
	out := make([]Pattern, len(ps))
	for i, p := range ps {
		out[i] = p
		out[i].References = append([]string(nil), p.References...)
		out[i].Labels = append([]string(nil), p.Labels...)
		out[i].Patterns = deepCopyPatterns(p.Patterns)
	}
	return out
}
