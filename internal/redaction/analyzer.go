package redaction

import (
	"context"
	"fmt"
	"log/slog"

	"aegis/internal/ml"
)

// Analysis is the full output-analyzer result for one response text.
type Analysis struct {
	ContainsPII       bool               `json:"containsPii"`
	PIIFindings       []PIIFinding       `json:"piiFindings,omitempty"`
	SensitiveFindings []SensitiveFinding `json:"sensitiveFindings,omitempty"`
	Entities          []ml.Entity        `json:"entities,omitempty"`
	PolicyViolations  []string           `json:"policyViolations,omitempty"`
	SanitizedOutput   string             `json:"sanitizedOutput,omitempty"`
}

// Analyzer composes PII detection, the sensitive-data detector, and the
// optional NER model.
type Analyzer struct {
	detector *Detector
	models   *ml.Registry
}

// NewAnalyzer builds an analyzer. A nil models registry disables the NER
// stage.
func NewAnalyzer(detector *Detector, models *ml.Registry) *Analyzer {
	return &Analyzer{detector: detector, models: models}
}

// Analyze scans a response text. SanitizedOutput is populated only when at
// least one finding exists: PII regions are masked first (descending start
// preserves offsets), then sensitive regions are re-detected on the masked
// text and masked in turn.
func (a *Analyzer) Analyze(ctx context.Context, text string) *Analysis {
	result := &Analysis{
		PIIFindings:       DetectPII(text),
		SensitiveFindings: a.detector.Detect(text),
	}
	result.ContainsPII = len(result.PIIFindings) > 0

	if a.models != nil {
		if model, ok := a.models.Active(ml.ModelPIIDetector); ok {
			entities, err := model.DetectEntities(ctx, text)
			if err != nil {
				slog.Warn("ner stage failed, continuing", "error", err)
			} else {
				result.Entities = entities
			}
		}
	}

	for _, f := range result.SensitiveFindings {
		switch f.Category {
		case CategoryCredential:
			result.PolicyViolations = append(result.PolicyViolations,
				fmt.Sprintf("Credential exposure: %s", f.Description))
		case CategoryInternal:
			result.PolicyViolations = append(result.PolicyViolations,
				fmt.Sprintf("Internal system info exposed: %s", f.Description))
		}
	}

	if len(result.PIIFindings) == 0 && len(result.SensitiveFindings) == 0 {
		return result
	}

	sanitized := text
	if len(result.PIIFindings) > 0 {
		spans := make([]maskSpan, len(result.PIIFindings))
		for i, f := range result.PIIFindings {
			spans[i] = maskSpan{start: f.Start, end: f.End, mask: f.MaskedValue}
		}
		sanitized = maskText(sanitized, spans)
	}
	// Sensitive regions are re-detected on the PII-masked text so their
	// offsets refer to the current string, even if that double-masks
	// regions the PII pass already touched.
	if len(result.SensitiveFindings) > 0 {
		redetected := a.detector.Detect(sanitized)
		spans := make([]maskSpan, len(redetected))
		for i, f := range redetected {
			spans[i] = maskSpan{start: f.Start, end: f.End, mask: f.MaskedValue}
		}
		sanitized = maskText(sanitized, spans)
	}
	result.SanitizedOutput = sanitized
	return result
}
