// Package patterns holds the curated detection pattern catalogs shared by the
// inspection pipeline: prompt-injection and jailbreak phrase sets (English and
// Korean), chat-template markers, hidden-directive patterns for retrieved
// documents, and the Unicode scanners for invisible and homoglyph characters.
//
// Catalogs are data, not code: every entry carries a stable identifier so that
// findings can reference the exact pattern that fired.
package patterns

import (
	"regexp"
)

// ThreatType classifies what a matched pattern indicates.
type ThreatType string

const (
	ThreatDirectInjection   ThreatType = "direct_injection"
	ThreatIndirectInjection ThreatType = "indirect_injection"
	ThreatJailbreak         ThreatType = "jailbreak"
	ThreatDataExfiltration  ThreatType = "data_exfiltration"
	ThreatRoleManipulation  ThreatType = "role_manipulation"
	ThreatContextConfusion  ThreatType = "context_confusion"
	ThreatHiddenDirective   ThreatType = "hidden_directive"
	ThreatInvisibleChars    ThreatType = "invisible_characters"
	ThreatEncodingAttack    ThreatType = "encoding_attack"
	ThreatHomoglyphAttack   ThreatType = "homoglyph_attack"
	ThreatToolPoisoning     ThreatType = "tool_poisoning"
	ThreatInstructionInject ThreatType = "instruction_injection"
	ThreatExcessiveScope    ThreatType = "excessive_scope"
	ThreatCredentialExposed ThreatType = "credential_exposure"
	ThreatPIIExposed        ThreatType = "pii_exposure"
)

// RiskLevel grades the severity of a finding.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskOrder is used for comparisons and bumping.
var riskOrder = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Weight returns the risk-score weight of a level as used by the deep
// inspector (low 0.1, medium 0.4, high 0.9, critical 1.0).
func (r RiskLevel) Weight() float64 {
	switch r {
	case RiskLow:
		return 0.1
	case RiskMedium:
		return 0.4
	case RiskHigh:
		return 0.9
	case RiskCritical:
		return 1.0
	default:
		return 0.0
	}
}

// AtLeast reports whether r is at or above min.
func (r RiskLevel) AtLeast(min RiskLevel) bool {
	return riskOrder[r] >= riskOrder[min]
}

// Bump raises the level one step, capped at critical.
func (r RiskLevel) Bump() RiskLevel {
	switch r {
	case RiskLow:
		return RiskMedium
	case RiskMedium:
		return RiskHigh
	case RiskHigh:
		return RiskCritical
	default:
		return r
	}
}

// MaxRisk returns the higher of two levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if riskOrder[a] >= riskOrder[b] {
		return a
	}
	return b
}

// Span is a single match location within scanned text (byte offsets).
type Span struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Matched string `json:"matched"`
}

// Pattern is one labeled detection pattern.
type Pattern struct {
	ID          string
	Severity    RiskLevel
	Description string
	re          *regexp.Regexp
}

// Matches reports whether the pattern matches anywhere in text.
func (p *Pattern) Matches(text string) bool {
	return p.re.MatchString(text)
}

// FindSpans returns all match spans in text, up to limit (0 = unlimited).
func (p *Pattern) FindSpans(text string, limit int) []Span {
	if limit <= 0 {
		limit = -1
	}
	locs := p.re.FindAllStringIndex(text, limit)
	spans := make([]Span, 0, len(locs))
	for _, loc := range locs {
		spans = append(spans, Span{Start: loc[0], End: loc[1], Matched: text[loc[0]:loc[1]]})
	}
	return spans
}

// Group is a purpose-labeled set of patterns that share a threat type and a
// fixed risk level.
type Group struct {
	Name     string
	Threat   ThreatType
	Risk     RiskLevel
	Patterns []Pattern
}

// GroupMatch is the result of scanning a group against a text.
type GroupMatch struct {
	Group      string     `json:"group"`
	Threat     ThreatType `json:"threat"`
	Risk       RiskLevel  `json:"risk_level"`
	PatternIDs []string   `json:"matched_patterns"`
	Spans      []Span     `json:"spans,omitempty"`
}

// Scan runs every pattern in the group against text. It returns nil when
// nothing matched.
func (g *Group) Scan(text string) *GroupMatch {
	var match *GroupMatch
	for i := range g.Patterns {
		p := &g.Patterns[i]
		spans := p.FindSpans(text, 10)
		if len(spans) == 0 {
			continue
		}
		if match == nil {
			match = &GroupMatch{Group: g.Name, Threat: g.Threat, Risk: g.Risk}
		}
		match.PatternIDs = append(match.PatternIDs, p.ID)
		match.Spans = append(match.Spans, spans...)
	}
	return match
}

// mustPattern compiles a catalog entry. Catalog regexes are fixed at build
// time, so compilation failure is a programming error.
func mustPattern(id string, severity RiskLevel, description, expr string) Pattern {
	return Pattern{
		ID:          id,
		Severity:    severity,
		Description: description,
		re:          regexp.MustCompile(expr),
	}
}
