package rag

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"aegis/internal/patterns"
)

// ContentSignature is a cheap statistical fingerprint of a text, used to
// compare retrieved content against a trusted reference.
type ContentSignature struct {
	WordCount            int                `json:"wordCount"`
	AvgWordLength        float64            `json:"avgWordLength"`
	VocabularyRichness   float64            `json:"vocabularyRichness"`
	TopKeywords          []string           `json:"topKeywords"`
	LanguageDistribution map[string]float64 `json:"languageDistribution"`
	SentimentIndicators  map[string]float64 `json:"sentimentIndicators"`
}

// DriftReport is the comparison verdict between two signatures.
type DriftReport struct {
	HasDrift   bool     `json:"hasDrift"`
	DriftScore float64  `json:"driftScore"`
	DriftTypes []string `json:"driftTypes,omitempty"`
}

// ChunkDrift is the verdict for one chunk against the aggregate.
type ChunkDrift struct {
	Index  int          `json:"index"`
	Report *DriftReport `json:"report"`
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "of": true, "for": true,
	"is": true, "are": true, "was": true, "be": true, "it": true, "this": true,
	"that": true, "with": true, "as": true, "by": true, "from": true,
	"이": true, "그": true, "저": true, "것": true, "수": true, "등": true,
}

var sentimentVocab = map[string]map[string]bool{
	"positive": {
		"good": true, "great": true, "excellent": true, "helpful": true,
		"best": true, "safe": true, "reliable": true, "좋은": true, "훌륭한": true,
	},
	"negative": {
		"bad": true, "terrible": true, "dangerous": true, "broken": true,
		"worst": true, "unsafe": true, "wrong": true, "나쁜": true, "위험한": true,
	},
	"instruction": {
		"must": true, "should": true, "ignore": true, "follow": true,
		"execute": true, "command": true, "instruction": true, "instructions": true,
		"obey": true, "disregard": true, "지시": true, "명령": true, "무시": true,
	},
}

var wordSplit = regexp.MustCompile(`[\s\p{P}]+`)

// GenerateSignature fingerprints a text: tokenize on whitespace and
// punctuation, drop stopwords, rank keyword frequency, count Unicode script
// distribution, and score the fixed sentiment vocabulary.
func GenerateSignature(text string) ContentSignature {
	sig := ContentSignature{
		LanguageDistribution: map[string]float64{"latin": 0, "hangul": 0, "other": 0},
		SentimentIndicators:  map[string]float64{"positive": 0, "negative": 0, "instruction": 0},
	}

	words := tokenize(text)
	sig.WordCount = len(words)
	if len(words) == 0 {
		return sig
	}

	var totalLen int
	unique := make(map[string]int)
	for _, w := range words {
		totalLen += len([]rune(w))
		unique[w]++
	}
	sig.AvgWordLength = float64(totalLen) / float64(len(words))
	sig.VocabularyRichness = float64(len(unique)) / float64(len(words))

	// Keyword ranking on non-stopwords, frequency then lexicographic.
	type freq struct {
		word  string
		count int
	}
	var ranked []freq
	for w, c := range unique {
		if !stopwords[w] {
			ranked = append(ranked, freq{w, c})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	for i := 0; i < len(ranked) && i < 10; i++ {
		sig.TopKeywords = append(sig.TopKeywords, ranked[i].word)
	}

	var latin, hangul, other, letters int
	for _, r := range text {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
			letters++
		case patterns.IsHangul(r):
			hangul++
			letters++
		case r > 127:
			other++
			letters++
		}
	}
	if letters > 0 {
		sig.LanguageDistribution["latin"] = float64(latin) / float64(letters)
		sig.LanguageDistribution["hangul"] = float64(hangul) / float64(letters)
		sig.LanguageDistribution["other"] = float64(other) / float64(letters)
	}

	for name, vocab := range sentimentVocab {
		count := 0
		for _, w := range words {
			if vocab[w] {
				count++
			}
		}
		sig.SentimentIndicators[name] = float64(count) / float64(len(words))
	}
	return sig
}

func tokenize(text string) []string {
	var words []string
	for _, w := range wordSplit.Split(strings.ToLower(text), -1) {
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

// driftThresholds tune the comparison; chunk mode loosens keyword and
// language sensitivity.
type driftThresholds struct {
	keywordOverlap float64
	languageShift  float64
}

var (
	defaultThresholds = driftThresholds{keywordOverlap: 0.2, languageShift: 0.4}
	chunkThresholds   = driftThresholds{keywordOverlap: 0.1, languageShift: 0.5}
)

// CompareSignatures scores current against reference by summing weighted
// signal deltas. Drift is reported when the score exceeds 0.3.
func CompareSignatures(reference, current ContentSignature) *DriftReport {
	return compare(reference, current, defaultThresholds)
}

func compare(reference, current ContentSignature, th driftThresholds) *DriftReport {
	report := &DriftReport{}

	if reference.WordCount > 0 && current.WordCount > 0 {
		ratio := float64(current.WordCount) / float64(reference.WordCount)
		if ratio > 1 {
			ratio = 1 / ratio
		}
		if ratio < 0.5 {
			report.DriftScore += 0.2
		}
	}

	if math.Abs(current.VocabularyRichness-reference.VocabularyRichness) > 0.3 {
		report.DriftScore += 0.15
		report.DriftTypes = append(report.DriftTypes, "style_change")
	}

	if len(reference.TopKeywords) > 0 && len(current.TopKeywords) > 0 {
		if keywordOverlap(reference.TopKeywords, current.TopKeywords) < th.keywordOverlap {
			report.DriftScore += 0.3
			report.DriftTypes = append(report.DriftTypes, "topic_shift")
		}
	}

	if languageShift(reference.LanguageDistribution, current.LanguageDistribution) > th.languageShift {
		report.DriftScore += 0.2
		report.DriftTypes = append(report.DriftTypes, "content_divergence")
	}

	sentimentShift := math.Abs(current.SentimentIndicators["positive"]-reference.SentimentIndicators["positive"]) +
		math.Abs(current.SentimentIndicators["negative"]-reference.SentimentIndicators["negative"])
	if sentimentShift > 0.5 {
		report.DriftScore += 0.15
	}

	if current.SentimentIndicators["instruction"]-reference.SentimentIndicators["instruction"] > 0.3 {
		report.DriftScore += 0.4
		report.DriftTypes = append(report.DriftTypes, "injection_suspected")
	}

	report.HasDrift = report.DriftScore > 0.3
	return report
}

func keywordOverlap(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	shared := 0
	for _, w := range b {
		if set[w] {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}

func languageShift(a, b map[string]float64) float64 {
	var shift float64
	for _, key := range []string{"latin", "hangul", "other"} {
		shift += math.Abs(a[key] - b[key])
	}
	return shift / 2
}

// CheckChunkConsistency compares each chunk against the signature of the
// combined text using the looser chunk thresholds.
func CheckChunkConsistency(chunks []string) []ChunkDrift {
	if len(chunks) == 0 {
		return nil
	}
	aggregate := GenerateSignature(strings.Join(chunks, "\n"))

	results := make([]ChunkDrift, 0, len(chunks))
	for i, chunk := range chunks {
		results = append(results, ChunkDrift{
			Index:  i,
			Report: compare(aggregate, GenerateSignature(chunk), chunkThresholds),
		})
	}
	return results
}
