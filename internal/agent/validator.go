// Package agent validates tool calls made by autonomous agents through four
// sequential layers: whitelist, parameter validation, permission scope, and
// content risk assessment.
package agent

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"aegis/internal/patterns"
)

// Denial types, in the order the layers can produce them.
const (
	DenialNotWhitelisted   = "tool_not_whitelisted"
	DenialParamValidation  = "parameter_validation_failed"
	DenialPermissionScope  = "permission_denied"
	DenialHighRisk         = "high_risk"
)

// Restriction scopes what a whitelisted tool may touch. Fields are used
// depending on the tool family: tables/operations for database tools, path
// for file tools, whitelist/blacklist for API calls.
type Restriction struct {
	Tables     []string `yaml:"tables,omitempty" json:"tables,omitempty"`
	Operations []string `yaml:"operations,omitempty" json:"operations,omitempty"`
	Path       string   `yaml:"path,omitempty" json:"path,omitempty"`
	Allowed    *bool    `yaml:"allowed,omitempty" json:"allowed,omitempty"`
	Whitelist  []string `yaml:"whitelist,omitempty" json:"whitelist,omitempty"`
	Blacklist  []string `yaml:"blacklist,omitempty" json:"blacklist,omitempty"`
}

// ToolPermission is one whitelist entry.
type ToolPermission struct {
	Name         string        `yaml:"name" json:"name"`
	Allowed      bool          `yaml:"allowed" json:"allowed"`
	Restrictions []Restriction `yaml:"restrictions,omitempty" json:"restrictions,omitempty"`
}

// PermissionConfig is the full agent permission set.
type PermissionConfig struct {
	Permissions []ToolPermission `yaml:"permissions" json:"permissions"`
}

// Request is one tool call to validate.
type Request struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
	Context    map[string]any `json:"context,omitempty"`
}

// Decision is the validation verdict.
type Decision struct {
	Allowed    bool               `json:"allowed"`
	Reason     string             `json:"reason,omitempty"`
	DenialType string             `json:"denialType,omitempty"`
	RiskLevel  patterns.RiskLevel `json:"riskLevel"`
	LatencyMs  int64              `json:"latencyMs"`
}

type dangerousPattern struct {
	id       string
	severity patterns.RiskLevel
	re       *regexp.Regexp
}

var dangerousPatterns = []dangerousPattern{
	// SQL injection
	{"sql-stacked", patterns.RiskCritical, regexp.MustCompile(`(?i);\s*(DROP|DELETE|TRUNCATE|ALTER)\b`)},
	{"sql-union", patterns.RiskCritical, regexp.MustCompile(`(?i)\bUNION\s+SELECT\b`)},
	{"sql-comment", patterns.RiskCritical, regexp.MustCompile(`'\s*;\s*--`)},
	{"sql-tautology", patterns.RiskCritical, regexp.MustCompile(`(?i)\bOR\s+'1'\s*=\s*'1'`)},
	// Path traversal
	{"path-traversal", patterns.RiskHigh, regexp.MustCompile(`\.\./`)},
	{"path-sensitive", patterns.RiskHigh, regexp.MustCompile(`/etc/(passwd|shadow|hosts)\b`)},
	{"path-proc", patterns.RiskHigh, regexp.MustCompile(`/proc/self\b`)},
	// Command injection
	{"cmd-backtick", patterns.RiskCritical, regexp.MustCompile("`[^`]+`")},
	{"cmd-subshell", patterns.RiskCritical, regexp.MustCompile(`\$\([^)]+\)`)},
	{"cmd-chained", patterns.RiskCritical, regexp.MustCompile(`(?i);\s*(rm|cat|curl|wget|nc|bash|sh|python|node)\b`)},
	{"cmd-piped", patterns.RiskCritical, regexp.MustCompile(`(?i)\|\s*(bash|sh|zsh)\b`)},
}

// Validator checks tool calls against a permission config.
type Validator struct {
	config PermissionConfig
}

// NewValidator builds a validator from a permission config.
func NewValidator(config PermissionConfig) *Validator {
	return &Validator{config: config}
}

// Validate runs the four layers in order and stops at the first denial.
func (v *Validator) Validate(req Request) *Decision {
	start := time.Now()
	d := v.validate(req)
	d.LatencyMs = time.Since(start).Milliseconds()
	return d
}

func (v *Validator) validate(req Request) *Decision {
	// Layer 1: whitelist.
	perm := v.lookup(req.ToolName)
	if perm == nil || !perm.Allowed {
		return &Decision{
			Allowed:    false,
			Reason:     fmt.Sprintf("tool %q is not whitelisted", req.ToolName),
			DenialType: DenialNotWhitelisted,
			RiskLevel:  patterns.RiskHigh,
		}
	}

	// Layer 2: parameter validation.
	if d := validateParameters(req, perm); d != nil {
		return d
	}

	// Layer 3: permission scope.
	if d := validateScope(req, perm); d != nil {
		return d
	}

	// Layer 4: risk assessment over every string parameter.
	if d := assessRisk(req); d != nil {
		return d
	}

	return &Decision{Allowed: true, RiskLevel: patterns.RiskLow}
}

func (v *Validator) lookup(name string) *ToolPermission {
	for i := range v.config.Permissions {
		if v.config.Permissions[i].Name == name {
			return &v.config.Permissions[i]
		}
	}
	return nil
}

func validateParameters(req Request, perm *ToolPermission) *Decision {
	deny := func(reason string) *Decision {
		return &Decision{
			Allowed:    false,
			Reason:     reason,
			DenialType: DenialParamValidation,
			RiskLevel:  patterns.RiskHigh,
		}
	}

	table, hasTable := stringParam(req.Parameters, "table")
	if req.ToolName == "database_query" || hasTable {
		for _, r := range perm.Restrictions {
			if len(r.Tables) == 0 {
				continue
			}
			if matchAnyGlob(r.Tables, table) && len(r.Operations) == 0 {
				return deny(fmt.Sprintf("table %q is restricted with no permitted operations", table))
			}
		}
	}

	if req.ToolName == "file_read" || req.ToolName == "file_write" {
		if path, ok := stringParam(req.Parameters, "path"); ok {
			for _, r := range perm.Restrictions {
				if r.Path == "" {
					continue
				}
				if matchGlob(r.Path, path) && r.Allowed != nil && !*r.Allowed {
					return deny(fmt.Sprintf("path %q is denied by restriction %q", path, r.Path))
				}
			}
		}
	}

	if req.ToolName == "api_call" {
		if url, ok := stringParam(req.Parameters, "url"); ok {
			for _, r := range perm.Restrictions {
				if len(r.Whitelist) > 0 && !matchAnyGlob(r.Whitelist, url) {
					return deny(fmt.Sprintf("url %q is not on the whitelist", url))
				}
				if matchAnyGlob(r.Blacklist, url) {
					return deny(fmt.Sprintf("url %q is blacklisted", url))
				}
			}
		}
	}
	return nil
}

func validateScope(req Request, perm *ToolPermission) *Decision {
	table, hasTable := stringParam(req.Parameters, "table")
	operation, hasOp := stringParam(req.Parameters, "operation")
	if !hasTable || !hasOp {
		return nil
	}

	for _, r := range perm.Restrictions {
		if len(r.Tables) == 0 || !matchAnyGlob(r.Tables, table) {
			continue
		}
		op := strings.ToLower(operation)
		for _, allowed := range r.Operations {
			if strings.ToLower(allowed) == op {
				return nil
			}
		}
		return &Decision{
			Allowed:    false,
			Reason:     fmt.Sprintf("operation %q is not permitted on table %q", operation, table),
			DenialType: DenialPermissionScope,
			RiskLevel:  patterns.RiskMedium,
		}
	}
	return nil
}

func assessRisk(req Request) *Decision {
	values := collectStrings(req.Parameters, nil)
	for _, value := range values {
		for _, p := range dangerousPatterns {
			if !p.re.MatchString(value) {
				continue
			}
			if p.severity.AtLeast(patterns.RiskHigh) {
				return &Decision{
					Allowed:    false,
					Reason:     fmt.Sprintf("dangerous pattern %s detected in parameters", p.id),
					DenialType: DenialHighRisk,
					RiskLevel:  p.severity,
				}
			}
		}
	}
	return nil
}

// collectStrings gathers every string value reachable in a parameter map,
// including nested maps and string arrays.
func collectStrings(params map[string]any, acc []string) []string {
	for _, v := range params {
		acc = appendStrings(v, acc)
	}
	return acc
}

func appendStrings(v any, acc []string) []string {
	switch val := v.(type) {
	case string:
		acc = append(acc, val)
	case []string:
		acc = append(acc, val...)
	case []any:
		for _, item := range val {
			acc = appendStrings(item, acc)
		}
	case map[string]any:
		acc = collectStrings(val, acc)
	}
	return acc
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func matchAnyGlob(globs []string, value string) bool {
	for _, g := range globs {
		if matchGlob(g, value) {
			return true
		}
	}
	return false
}

// matchGlob supports * (any run except /) and ** (any run).
func matchGlob(pattern, value string) bool {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i++
		case pattern[i] == '*':
			b.WriteString("[^/]*")
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(value)
}
