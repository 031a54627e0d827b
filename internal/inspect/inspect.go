// Package inspect runs the prompt-side inspection pipeline: curated pattern
// groups, semantic intent, multi-turn context, and the optional ML
// classifier, in that order. Risk only ever goes up across stages.
package inspect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aegis/internal/conversation"
	"aegis/internal/ml"
	"aegis/internal/patterns"
	"aegis/internal/semantic"
)

// BlockThreshold is the risk score at which an input stops passing.
const BlockThreshold = 0.7

// Finding is one detected threat contribution.
type Finding struct {
	Type          patterns.ThreatType `json:"type"`
	Description   string              `json:"description,omitempty"`
	Confidence    float64             `json:"confidence"`
	RiskLevel     patterns.RiskLevel  `json:"riskLevel"`
	PatternIDs    []string            `json:"patternIds,omitempty"`
	Probabilities map[string]float64  `json:"probabilities,omitempty"`
}

// Result is the pipeline output.
type Result struct {
	Passed    bool      `json:"passed"`
	RiskScore float64   `json:"riskScore"`
	Findings  []Finding `json:"findings"`
	LatencyMs int64     `json:"latencyMs"`
}

// Request is one inspection input. EnableSemantic and EnableContext default
// to true when nil.
type Request struct {
	Message             string   `json:"message"`
	SessionID           string   `json:"sessionId,omitempty"`
	ConversationHistory []string `json:"conversationHistory,omitempty"`
	EnableSemantic      *bool    `json:"enableSemantic,omitempty"`
	EnableContext       *bool    `json:"enableContext,omitempty"`
}

// Inspector composes the four stages. Any of semantic, contextAnalyzer, and
// models may be nil; missing stages are skipped.
type Inspector struct {
	semantic        *semantic.Analyzer
	contextAnalyzer *conversation.Analyzer
	models          *ml.Registry
}

// New builds an inspector. Dependencies are injected so tests can run a
// deterministic subset of stages.
func New(sem *semantic.Analyzer, ctxAnalyzer *conversation.Analyzer, models *ml.Registry) *Inspector {
	return &Inspector{semantic: sem, contextAnalyzer: ctxAnalyzer, models: models}
}

var intentThreat = map[semantic.Intent]patterns.ThreatType{
	semantic.IntentOverrideInstructions: patterns.ThreatDirectInjection,
	semantic.IntentExfiltrateData:       patterns.ThreatDataExfiltration,
	semantic.IntentJailbreakAttempt:     patterns.ThreatJailbreak,
	semantic.IntentRoleManipulation:     patterns.ThreatRoleManipulation,
	semantic.IntentContextConfusion:     patterns.ThreatContextConfusion,
	semantic.IntentGradualEscalation:    patterns.ThreatIndirectInjection,
}

var intentRiskLevel = map[semantic.Intent]patterns.RiskLevel{
	semantic.IntentOverrideInstructions: patterns.RiskHigh,
	semantic.IntentExfiltrateData:       patterns.RiskHigh,
	semantic.IntentJailbreakAttempt:     patterns.RiskCritical,
	semantic.IntentRoleManipulation:     patterns.RiskMedium,
	semantic.IntentContextConfusion:     patterns.RiskMedium,
	semantic.IntentGradualEscalation:    patterns.RiskMedium,
}

// Inspect runs the pipeline. Stage failures are logged and skipped; the
// remaining stages still run.
func (i *Inspector) Inspect(ctx context.Context, req Request) *Result {
	start := time.Now()
	result := &Result{}

	parts := append(append([]string(nil), req.ConversationHistory...), req.Message)
	fullInput := strings.Join(parts, "\n")

	// Stage 1: curated pattern groups over the whole conversation.
	for _, group := range patterns.InjectionGroups {
		match := group.Scan(fullInput)
		if match == nil {
			continue
		}
		confidence := minf(1, 0.7+0.1*float64(len(match.PatternIDs)))
		result.addFinding(Finding{
			Type:        group.Threat,
			Description: fmt.Sprintf("matched %d %s pattern(s)", len(match.PatternIDs), group.Name),
			Confidence:  confidence,
			RiskLevel:   group.Risk,
			PatternIDs:  match.PatternIDs,
		}, confidence*group.Risk.Weight())
	}

	// Stage 2: semantic intent on the current message only.
	if boolOr(req.EnableSemantic, true) && i.semantic != nil {
		sem, err := i.semantic.Analyze(ctx, req.Message)
		switch {
		case err != nil:
			slog.Warn("semantic stage failed, continuing", "error", err)
		case sem.Detected && sem.Intent != semantic.IntentBenign:
			risk := intentRiskLevel[sem.Intent]
			if sem.Confidence >= 0.9 {
				risk = risk.Bump()
			}
			result.addFinding(Finding{
				Type:        intentThreat[sem.Intent],
				Description: fmt.Sprintf("semantic intent %s", sem.Intent),
				Confidence:  sem.Confidence,
				RiskLevel:   risk,
			}, sem.Confidence)
		}
	}

	// Stage 3: multi-turn context when a session is known.
	if boolOr(req.EnableContext, true) && i.contextAnalyzer != nil && req.SessionID != "" {
		ctxResult, err := i.contextAnalyzer.Analyze(ctx, req.SessionID, req.Message, req.ConversationHistory)
		switch {
		case err != nil:
			slog.Warn("context stage failed, continuing", "error", err)
		case ctxResult.CumulativeRiskScore >= 0.6 && len(ctxResult.Patterns) > 0:
			risk := patterns.RiskMedium
			if ctxResult.CumulativeRiskScore >= 0.8 {
				risk = patterns.RiskHigh
			}
			result.addFinding(Finding{
				Type:        patterns.ThreatIndirectInjection,
				Description: fmt.Sprintf("multi-turn patterns: %s", strings.Join(ctxResult.Patterns, ", ")),
				Confidence:  ctxResult.CumulativeRiskScore,
				RiskLevel:   risk,
			}, ctxResult.CumulativeRiskScore)
		}
	}

	// Stage 4: ML classifier when a session is bound.
	if i.models != nil {
		if model, ok := i.models.Active(ml.ModelInjectionClassifier); ok {
			cls, err := model.ClassifyInjection(ctx, fullInput)
			switch {
			case err != nil:
				slog.Warn("ml stage failed, continuing", "error", err)
			case cls.Label != "normal" && cls.Confidence >= model.Config.Threshold:
				result.addFinding(Finding{
					Type:          patterns.ThreatType("ml:" + cls.Label),
					Description:   fmt.Sprintf("classifier label %s", cls.Label),
					Confidence:    cls.Confidence,
					RiskLevel:     patterns.RiskHigh,
					Probabilities: cls.Probabilities,
				}, cls.Confidence)
			}
		}
	}

	result.Passed = result.RiskScore < BlockThreshold
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

// addFinding appends a finding and raises the risk score. The score never
// decreases.
func (r *Result) addFinding(f Finding, score float64) {
	r.Findings = append(r.Findings, f)
	if score > r.RiskScore {
		r.RiskScore = score
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
