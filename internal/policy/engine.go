package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"aegis/internal/ml"
	"aegis/internal/patterns"
	"aegis/internal/semantic"
)

// Finding is one rule match against a piece of text.
type Finding struct {
	RuleID          string              `json:"ruleId"`
	RuleName        string              `json:"ruleName"`
	Type            patterns.ThreatType `json:"type"`
	Confidence      float64             `json:"confidence"`
	MatchedPatterns []string            `json:"matchedPatterns"`
	RiskLevel       patterns.RiskLevel  `json:"riskLevel"`
	Action          Action              `json:"action"`
}

// Engine evaluates text against the store's active rules. Semantic and ML
// patterns delegate to their analyzers; either may be absent, in which case
// those patterns simply never match.
type Engine struct {
	store  *Store
	sem    *semantic.Analyzer
	models *ml.Registry
}

// NewEngine wires the evaluator.
func NewEngine(store *Store, sem *semantic.Analyzer, models *ml.Registry) *Engine {
	return &Engine{store: store, sem: sem, models: models}
}

// patternMatch is one pattern's evaluation outcome.
type patternMatch struct {
	matched    bool
	confidence float64
	label      string
}

// Evaluate runs every active rule against the text, highest priority
// first. A rule matches when any of its patterns matches; the finding's
// confidence is the max pattern confidence.
func (e *Engine) Evaluate(ctx context.Context, text string) []Finding {
	var findings []Finding
	for _, rule := range e.store.Active() {
		var matchedLabels []string
		var confidence float64
		for i := range rule.Patterns {
			m := e.evaluatePattern(ctx, text, &rule.Patterns[i], 1)
			if !m.matched {
				continue
			}
			matchedLabels = append(matchedLabels, m.label)
			if m.confidence > confidence {
				confidence = m.confidence
			}
		}
		if len(matchedLabels) == 0 {
			continue
		}
		findings = append(findings, Finding{
			RuleID:          rule.ID,
			RuleName:        rule.Name,
			Type:            rule.Category,
			Confidence:      confidence,
			MatchedPatterns: matchedLabels,
			RiskLevel:       rule.Severity,
			Action:          rule.Action,
		})
	}
	return findings
}

func (e *Engine) evaluatePattern(ctx context.Context, text string, p *Pattern, depth int) patternMatch {
	if depth > maxCompositeDepth {
		return patternMatch{}
	}
	switch p.Type {
	case PatternRegex:
		return evaluateRegex(text, p)
	case PatternSemantic:
		return e.evaluateSemantic(ctx, text, p)
	case PatternML:
		return e.evaluateML(ctx, text, p)
	case PatternComposite:
		return e.evaluateComposite(ctx, text, p, depth)
	default:
		return patternMatch{}
	}
}

func evaluateRegex(text string, p *Pattern) patternMatch {
	re, err := compileRegex(p.Value, p.Flags)
	if err != nil {
		slog.Warn("policy regex failed to compile", "pattern", p.Value, "error", err)
		return patternMatch{}
	}
	hits := re.FindAllStringIndex(text, 10)
	if len(hits) == 0 {
		return patternMatch{}
	}
	confidence := 0.7 + 0.1*float64(len(hits))
	if confidence > 1 {
		confidence = 1
	}
	return patternMatch{matched: true, confidence: confidence, label: "regex:" + p.Value}
}

func (e *Engine) evaluateSemantic(ctx context.Context, text string, p *Pattern) patternMatch {
	if e.sem == nil {
		return patternMatch{}
	}
	result, err := e.sem.Analyze(ctx, text)
	if err != nil {
		slog.Warn("policy semantic evaluation failed", "error", err)
		return patternMatch{}
	}
	threshold := p.Threshold
	if threshold == 0 {
		threshold = 0.6
	}
	if !result.Detected || string(result.Intent) != p.Value || result.Confidence < threshold {
		return patternMatch{}
	}
	return patternMatch{matched: true, confidence: result.Confidence, label: "semantic:" + p.Value}
}

func (e *Engine) evaluateML(ctx context.Context, text string, p *Pattern) patternMatch {
	if e.models == nil {
		return patternMatch{}
	}
	model, ok := e.models.Active(p.Value)
	if !ok {
		return patternMatch{}
	}
	threshold := p.Threshold
	if threshold == 0 {
		threshold = model.Config.Threshold
	}

	switch p.Value {
	case ml.ModelInjectionClassifier:
		cls, err := model.ClassifyInjection(ctx, text)
		if err != nil {
			slog.Warn("policy ml evaluation failed", "model", p.Value, "error", err)
			return patternMatch{}
		}
		if cls.Label == "normal" || cls.Confidence < threshold {
			return patternMatch{}
		}
		if len(p.Labels) > 0 && !containsLabel(p.Labels, cls.Label) {
			return patternMatch{}
		}
		return patternMatch{matched: true, confidence: cls.Confidence, label: "ml:" + cls.Label}

	case ml.ModelPIIDetector:
		entities, err := model.DetectEntities(ctx, text)
		if err != nil {
			slog.Warn("policy ml evaluation failed", "model", p.Value, "error", err)
			return patternMatch{}
		}
		var best float64
		var kinds []string
		for _, ent := range entities {
			if ent.Confidence < threshold {
				continue
			}
			if len(p.Labels) > 0 && !containsLabel(p.Labels, ent.Type) {
				continue
			}
			if ent.Confidence > best {
				best = ent.Confidence
			}
			kinds = append(kinds, ent.Type)
		}
		if len(kinds) == 0 {
			return patternMatch{}
		}
		return patternMatch{matched: true, confidence: best, label: "ml:ner:" + strings.Join(kinds, ",")}
	}
	return patternMatch{}
}

func (e *Engine) evaluateComposite(ctx context.Context, text string, p *Pattern, depth int) patternMatch {
	switch p.Operator {
	case OperatorAnd:
		var sum float64
		for i := range p.Patterns {
			m := e.evaluatePattern(ctx, text, &p.Patterns[i], depth+1)
			if !m.matched {
				return patternMatch{}
			}
			sum += m.confidence
		}
		if len(p.Patterns) == 0 {
			return patternMatch{}
		}
		return patternMatch{
			matched:    true,
			confidence: sum / float64(len(p.Patterns)),
			label:      fmt.Sprintf("composite:AND(%d)", len(p.Patterns)),
		}

	case OperatorOr:
		for i := range p.Patterns {
			if m := e.evaluatePattern(ctx, text, &p.Patterns[i], depth+1); m.matched {
				return m
			}
		}
		return patternMatch{}

	case OperatorNot:
		if len(p.Patterns) != 1 {
			return patternMatch{}
		}
		if m := e.evaluatePattern(ctx, text, &p.Patterns[0], depth+1); m.matched {
			return patternMatch{}
		}
		return patternMatch{matched: true, confidence: 1.0, label: "composite:NOT"}
	}
	return patternMatch{}
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
