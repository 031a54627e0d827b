// Package mcp validates Model Context Protocol requests: tool description
// poisoning, base64-smuggled directives, over-broad input schemas, and
// credentials hidden in request parameters.
package mcp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"aegis/internal/patterns"
	"aegis/internal/redaction"
)

// Tool is one MCP tool definition offered to a model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Request is an MCP call to validate.
type Request struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
	Tools  []Tool         `json:"tools,omitempty"`
}

// Finding is one detected problem in a request.
type Finding struct {
	Type        patterns.ThreatType `json:"type"`
	Severity    patterns.RiskLevel  `json:"severity"`
	ToolName    string              `json:"toolName,omitempty"`
	Description string              `json:"description"`
}

// Result is the validation verdict.
type Result struct {
	IsSafe    bool      `json:"isSafe"`
	Findings  []Finding `json:"findings"`
	RiskScore float64   `json:"riskScore"`
}

// scopeKeywords flag input schemas that grant far more capability than any
// single tool should ask for.
var scopeKeywords = []string{
	"shell", "exec", "eval", "sudo", "admin", "root", "password", "secret",
	"token", "credential", "rm -", "delete_all", "drop_table", "format",
}

var base64Run = regexp.MustCompile(`[A-Za-z0-9+/]{24,}={0,2}`)

func severityWeight(r patterns.RiskLevel) float64 {
	switch r {
	case patterns.RiskLow:
		return 0.2
	case patterns.RiskMedium:
		return 0.4
	case patterns.RiskHigh:
		return 0.7
	case patterns.RiskCritical:
		return 1.0
	default:
		return 0
	}
}

// Validator scans MCP requests. The sensitive-data detector supplies the
// credential catalog.
type Validator struct {
	detector *redaction.Detector
}

// NewValidator builds an MCP validator.
func NewValidator(detector *redaction.Detector) *Validator {
	return &Validator{detector: detector}
}

// Validate scans every tool and the request parameters.
func (v *Validator) Validate(req Request) *Result {
	result := &Result{}

	for _, tool := range req.Tools {
		result.Findings = append(result.Findings, v.scanTool(tool)...)
	}
	result.Findings = append(result.Findings, v.scanParams(req.Params)...)

	for _, f := range result.Findings {
		if w := severityWeight(f.Severity); w > result.RiskScore {
			result.RiskScore = w
		}
	}
	result.IsSafe = len(result.Findings) == 0
	return result
}

func (v *Validator) scanTool(tool Tool) []Finding {
	var findings []Finding

	// Description poisoning: the same directive catalogs the prompt and RAG
	// pipelines use, plus injection phrase groups. A directive aimed at the
	// model is an instruction injection, not just a poisoned definition.
	groups := append([]*patterns.Group{}, patterns.DirectiveGroups...)
	groups = append(groups, &patterns.DirectInjection)
	for _, group := range groups {
		if match := group.Scan(tool.Description); match != nil {
			findings = append(findings, Finding{
				Type:        patterns.ThreatInstructionInject,
				Severity:    patterns.RiskCritical,
				ToolName:    tool.Name,
				Description: fmt.Sprintf("tool description matches %s patterns", match.Group),
			})
			break
		}
	}

	// Credentials embedded in the description.
	if v.detector != nil {
		for _, f := range v.detector.Detect(tool.Description) {
			if f.Category == redaction.CategoryCredential {
				findings = append(findings, Finding{
					Type:        patterns.ThreatCredentialExposed,
					Severity:    patterns.RiskHigh,
					ToolName:    tool.Name,
					Description: fmt.Sprintf("tool description contains %s", f.Description),
				})
			}
		}
	}

	// Base64 payloads that decode to a directive.
	for _, encoded := range base64Run.FindAllString(tool.Description, 10) {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || !utf8.Valid(decoded) {
			continue
		}
		text := string(decoded)
		for _, group := range patterns.DirectiveGroups {
			if group.Scan(text) != nil {
				findings = append(findings, Finding{
					Type:        patterns.ThreatHiddenDirective,
					Severity:    patterns.RiskHigh,
					ToolName:    tool.Name,
					Description: "base64 payload in tool description decodes to a directive",
				})
				break
			}
		}
	}

	// Over-broad input schema.
	if len(tool.InputSchema) > 0 {
		raw, err := json.Marshal(tool.InputSchema)
		if err == nil {
			lowered := strings.ToLower(string(raw))
			for _, keyword := range scopeKeywords {
				if strings.Contains(lowered, keyword) {
					findings = append(findings, Finding{
						Type:        patterns.ThreatExcessiveScope,
						Severity:    patterns.RiskMedium,
						ToolName:    tool.Name,
						Description: fmt.Sprintf("input schema references %q", keyword),
					})
					break
				}
			}
		}
	}
	return findings
}

func (v *Validator) scanParams(params map[string]any) []Finding {
	if v.detector == nil || len(params) == 0 {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil
	}

	var findings []Finding
	for _, f := range v.detector.Detect(string(raw)) {
		if f.Category == redaction.CategoryCredential {
			findings = append(findings, Finding{
				Type:        patterns.ThreatCredentialExposed,
				Severity:    patterns.RiskHigh,
				Description: fmt.Sprintf("request parameters contain %s", f.Description),
			})
		}
	}
	return findings
}
