package ml

import (
	"context"
	"fmt"
	"math"
)

// ClassifierLabels is the fixed label set of the injection classifier, in
// output order.
var ClassifierLabels = []string{
	"normal",
	"direct_injection",
	"indirect_injection",
	"jailbreak",
	"data_exfiltration",
}

// Classification is the decoded classifier output.
type Classification struct {
	Label         string             `json:"label"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Softmax converts logits to a probability distribution. The max is
// subtracted before exponentiation for numerical stability.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > max {
			max = float64(v)
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// ClassifyInjection tokenizes text and runs the injection classifier. The
// output tensor has shape [1, L] over the configured labels.
func (m *Model) ClassifyInjection(ctx context.Context, text string) (*Classification, error) {
	session := m.Session()
	if session == nil {
		return nil, fmt.Errorf("model %s has no bound session", m.Config.Name)
	}

	enc := m.Tokenizer.Encode(text)
	outputs, err := session.Run(ctx, FeedsFromEncoding(enc))
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", m.Config.Name, err)
	}

	logits, ok := outputs["logits"]
	if !ok {
		return nil, fmt.Errorf("model %s returned no logits tensor", m.Config.Name)
	}
	labels := m.Config.Labels
	if len(logits.Data) < len(labels) {
		return nil, fmt.Errorf("model %s logits length %d < labels %d", m.Config.Name, len(logits.Data), len(labels))
	}

	probs := Softmax(logits.Data[:len(labels)])
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}

	result := &Classification{
		Label:         labels[best],
		Confidence:    probs[best],
		Probabilities: make(map[string]float64, len(labels)),
	}
	for i, label := range labels {
		result.Probabilities[label] = probs[i]
	}
	return result, nil
}
