// Package rag scans retrieved documents before they reach a model context:
// hidden directives, invisible characters, encoding and homoglyph attacks,
// embedding integrity, semantic drift, and source provenance.
package rag

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"aegis/internal/patterns"
)

// Document is a retrieved chunk submitted for scanning.
type Document struct {
	Content  string            `json:"content"`
	Source   string            `json:"source,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Finding is one detected issue in a document.
type Finding struct {
	Type        patterns.ThreatType `json:"type"`
	Severity    patterns.RiskLevel  `json:"severity"`
	Description string              `json:"description"`
	Span        *patterns.Span      `json:"span,omitempty"`
	PatternIDs  []string            `json:"patternIds,omitempty"`
}

// ScanResult is the verdict for one document.
type ScanResult struct {
	IsSafe        bool      `json:"isSafe"`
	Findings      []Finding `json:"findings"`
	RiskScore     float64   `json:"riskScore"`
	ScannedLength int       `json:"scannedLength"`
}

// Severity weights for document findings (lower floor than the prompt
// pipeline: a lone low finding should not sink a document).
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

var base64Candidate = regexp.MustCompile(`[A-Za-z0-9+/]{32,}={0,2}`)

// Scanner runs the four document detectors in a fixed order.
type Scanner struct{}

// NewScanner builds a document scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan inspects a document and scores it.
func (s *Scanner) Scan(doc Document) *ScanResult {
	result := &ScanResult{ScannedLength: len(doc.Content)}

	result.Findings = append(result.Findings, scanInvisible(doc.Content)...)
	result.Findings = append(result.Findings, scanDirectives(doc.Content)...)
	result.Findings = append(result.Findings, scanEncoding(doc.Content)...)

	for _, f := range result.Findings {
		if w := severityWeight(f.Severity); w > result.RiskScore {
			result.RiskScore = w
		}
	}
	result.IsSafe = len(result.Findings) == 0
	return result
}

func scanInvisible(content string) []Finding {
	scan := patterns.ScanInvisible(content)
	if scan.Count == 0 {
		return nil
	}
	severity := patterns.RiskMedium
	if scan.Count > 10 {
		severity = patterns.RiskHigh
	}
	first := scan.FirstSpan
	return []Finding{{
		Type:        patterns.ThreatInvisibleChars,
		Severity:    severity,
		Description: fmt.Sprintf("%d invisible character(s) found", scan.Count),
		Span:        &first,
	}}
}

func scanDirectives(content string) []Finding {
	var findings []Finding
	for _, group := range patterns.DirectiveGroups {
		match := group.Scan(content)
		if match == nil {
			continue
		}
		var span *patterns.Span
		if len(match.Spans) > 0 {
			span = &match.Spans[0]
		}
		findings = append(findings, Finding{
			Type:        patterns.ThreatHiddenDirective,
			Severity:    patterns.RiskCritical,
			Description: fmt.Sprintf("hidden directive via %s", match.Group),
			Span:        span,
			PatternIDs:  match.PatternIDs,
		})
	}
	return findings
}

func scanEncoding(content string) []Finding {
	var findings []Finding

	// Base64 runs that decode to directive text.
	for _, loc := range base64Candidate.FindAllStringIndex(content, 20) {
		encoded := content[loc[0]:loc[1]]
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || !utf8.Valid(decoded) {
			continue
		}
		text := string(decoded)
		for _, group := range patterns.DirectiveGroups {
			if group.Scan(text) != nil {
				findings = append(findings, Finding{
					Type:        patterns.ThreatEncodingAttack,
					Severity:    patterns.RiskHigh,
					Description: "base64 payload decodes to a hidden directive",
					Span:        &patterns.Span{Start: loc[0], End: loc[1], Matched: encoded},
				})
				break
			}
		}
	}

	// Homoglyphs only matter when Latin prose is present: NFKC folding
	// first so fullwidth forms normalize before counting.
	folded := norm.NFKC.String(content)
	count, first := patterns.CountHomoglyphs(content)
	if count > 0 && patterns.HasLatinWord(folded, 3) {
		findings = append(findings, Finding{
			Type:        patterns.ThreatHomoglyphAttack,
			Severity:    patterns.RiskMedium,
			Description: fmt.Sprintf("%d homoglyph character(s) mixed into Latin text", count),
			Span:        &first,
		})
	}
	return findings
}
