// Package redaction implements the response-side analyzer: regex PII
// detection with Korean-specific shapes, the sensitive-data catalog
// (credentials, internal system info, custom patterns), optional ML named
// entities, and output sanitization.
package redaction

import (
	"regexp"
	"sort"
)

// PIIType labels a detected piece of personal data.
type PIIType string

const (
	PIIRRN     PIIType = "rrn" // Korean resident registration number
	PIIPhone   PIIType = "phone"
	PIIEmail   PIIType = "email"
	PIICard    PIIType = "card"
	PIIAccount PIIType = "account"
)

// PIIFinding is one detected PII value with its location and mask.
type PIIFinding struct {
	Type        PIIType `json:"type"`
	Value       string  `json:"value"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Confidence  float64 `json:"confidence"`
	MaskedValue string  `json:"maskedValue"`
}

type piiDetector struct {
	piiType PIIType
	re      *regexp.Regexp
}

// Detector order is fixed; earlier detectors claim overlapping regions.
var piiDetectors = []piiDetector{
	{PIIRRN, regexp.MustCompile(`\b\d{6}-[1-4]\d{6}\b`)},
	{PIIPhone, regexp.MustCompile(`\b01[016789][-\s]?\d{3,4}[-\s]?\d{4}\b`)},
	{PIIEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{PIICard, regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)},
	{PIIAccount, regexp.MustCompile(`\b\d{3}-\d{2,6}-\d{2,8}\b`)},
}

// DetectPII runs the ordered PII detectors over text. Regions claimed by an
// earlier detector are not reported again.
func DetectPII(text string) []PIIFinding {
	var findings []PIIFinding
	claimed := make([][2]int, 0, 4)

	for _, d := range piiDetectors {
		for _, loc := range d.re.FindAllStringIndex(text, -1) {
			if overlapsAny(claimed, loc[0], loc[1]) {
				continue
			}
			value := text[loc[0]:loc[1]]
			findings = append(findings, PIIFinding{
				Type:        d.piiType,
				Value:       value,
				Start:       loc[0],
				End:         loc[1],
				Confidence:  1.0,
				MaskedValue: MaskValue(value),
			})
			claimed = append(claimed, [2]int{loc[0], loc[1]})
		}
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].Start < findings[j].Start })
	return findings
}

func overlapsAny(claimed [][2]int, start, end int) bool {
	for _, c := range claimed {
		if start < c[1] && end > c[0] {
			return true
		}
	}
	return false
}

// MaskValue masks a detected value. Short values become "****"; longer ones
// keep a 4-character prefix.
func MaskValue(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "****"
}

// maskText replaces finding regions in text, walking findings by descending
// start so earlier offsets stay valid.
func maskText(text string, spans []maskSpan) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })
	result := text
	for _, s := range spans {
		if s.start < 0 || s.end > len(result) || s.start > s.end {
			continue
		}
		result = result[:s.start] + s.mask + result[s.end:]
	}
	return result
}

type maskSpan struct {
	start, end int
	mask       string
}
