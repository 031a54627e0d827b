// Package semantic classifies a message into one of seven intents, either by
// a weighted pattern catalog or by cosine similarity against a precomputed
// reference table when an embedder is available.
package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Intent is the classified purpose of a message.
type Intent string

const (
	IntentBenign               Intent = "benign"
	IntentOverrideInstructions Intent = "override_instructions"
	IntentExfiltrateData       Intent = "exfiltrate_data"
	IntentJailbreakAttempt     Intent = "jailbreak_attempt"
	IntentRoleManipulation     Intent = "role_manipulation"
	IntentContextConfusion     Intent = "context_confusion"
	IntentGradualEscalation    Intent = "gradual_escalation"
)

// Match is one reference the query landed near.
type Match struct {
	Intent     Intent  `json:"intent"`
	Reference  string  `json:"reference"`
	Similarity float64 `json:"similarity"`
}

// Result is the analyzer output.
type Result struct {
	Detected   bool    `json:"detected"`
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	TopMatches []Match `json:"topMatches,omitempty"`
}

// Embedder produces a dense vector for a text. Implementations must be safe
// for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Analyzer classifies messages. With a nil embedder it runs in pattern mode;
// with an embedder it compares queries against the reference table.
type Analyzer struct {
	embedder Embedder
	refs     []refEmbedding
	cache    *embeddingCache

	similarityThreshold float64
	topK                int
	minConfidence       float64
}

type refEmbedding struct {
	intent Intent
	text   string
	vector []float64
}

// NewAnalyzer builds a pattern-mode analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		similarityThreshold: 0.6,
		topK:                5,
		minConfidence:       0.5,
	}
}

// NewEmbeddingAnalyzer builds an embedding-mode analyzer, precomputing
// vectors for the whole reference catalog up front.
func NewEmbeddingAnalyzer(ctx context.Context, embedder Embedder) (*Analyzer, error) {
	a := NewAnalyzer()
	a.embedder = embedder
	a.cache = newEmbeddingCache(1000)

	for intent, refs := range intentReferences {
		for _, text := range refs {
			vec, err := embedder.Embed(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("embedding reference for %s: %w", intent, err)
			}
			a.refs = append(a.refs, refEmbedding{intent: intent, text: text, vector: vec})
		}
	}
	return a, nil
}

// Analyze classifies a single message.
func (a *Analyzer) Analyze(ctx context.Context, message string) (*Result, error) {
	if a.embedder == nil {
		return a.analyzePatterns(message), nil
	}
	return a.analyzeEmbeddings(ctx, message)
}

func (a *Analyzer) analyzePatterns(message string) *Result {
	best := &Result{Detected: false, Intent: IntentBenign, Confidence: 0}
	for _, cat := range intentCatalogs {
		matches := 0
		for _, re := range cat.patterns {
			if re.MatchString(message) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		score := float64(matches) / float64(len(cat.patterns)) * cat.weight
		confidence := math.Min(1, score+0.1*float64(matches))
		if confidence > best.Confidence {
			best = &Result{Detected: true, Intent: cat.intent, Confidence: confidence}
		}
	}
	return best
}

func (a *Analyzer) analyzeEmbeddings(ctx context.Context, message string) (*Result, error) {
	query, err := a.queryEmbedding(ctx, message)
	if err != nil {
		return nil, err
	}

	var candidates []Match
	for _, ref := range a.refs {
		sim := Cosine(query, ref.vector)
		if sim >= a.similarityThreshold {
			candidates = append(candidates, Match{Intent: ref.intent, Reference: ref.text, Similarity: sim})
		}
	}
	if len(candidates) == 0 {
		return &Result{Detected: false, Intent: IntentBenign, Confidence: 0}, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > a.topK {
		candidates = candidates[:a.topK]
	}

	sums := make(map[Intent]float64)
	var total float64
	for _, c := range candidates {
		sums[c.Intent] += c.Similarity
		total += c.Similarity
	}
	var dominant Intent
	var dominantSum float64
	for intent, sum := range sums {
		if sum > dominantSum {
			dominant, dominantSum = intent, sum
		}
	}

	share := dominantSum / total
	if share < a.minConfidence {
		return &Result{Detected: false, Intent: IntentBenign, Confidence: 0, TopMatches: candidates}, nil
	}
	return &Result{Detected: true, Intent: dominant, Confidence: share, TopMatches: candidates}, nil
}

func (a *Analyzer) queryEmbedding(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := a.cache.get(text); ok {
		return vec, nil
	}
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	a.cache.put(text, vec)
	return vec, nil
}

// Cosine computes cosine similarity; mismatched or zero vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
