package rag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Embedding is a vector submitted for integrity verification.
type Embedding struct {
	Values    []float64 `json:"values"`
	Dimension int       `json:"dimension"`
	Checksum  string    `json:"checksum,omitempty"`
}

// IntegrityIssue is one problem detected in an embedding.
type IntegrityIssue struct {
	Type        string  `json:"type"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	Indices     []int   `json:"indices,omitempty"`
	Expected    string  `json:"expected,omitempty"`
	Actual      string  `json:"actual,omitempty"`
}

// EmbeddingStats are always computed, zeros for an empty vector.
type EmbeddingStats struct {
	Dimension int     `json:"dimension"`
	Magnitude float64 `json:"magnitude"`
	Mean      float64 `json:"mean"`
	Std       float64 `json:"std"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Sparsity  float64 `json:"sparsity"`
}

// IntegrityResult is the verification verdict.
type IntegrityResult struct {
	IsValid bool             `json:"isValid"`
	Issues  []IntegrityIssue `json:"issues"`
	Stats   EmbeddingStats   `json:"stats"`
}

// Checksum hashes the vector as little-endian float64 bytes and returns the
// first 16 hex characters of the SHA-256 digest.
func Checksum(values []float64) string {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])[:16]
}

// VerifyEmbedding checks an embedding for structural problems. A vector is
// valid when it carries no critical and no high issues.
func VerifyEmbedding(emb Embedding, expectedDimension int) *IntegrityResult {
	result := &IntegrityResult{Stats: computeStats(emb.Values)}

	actual := len(emb.Values)
	if emb.Dimension != 0 && emb.Dimension != actual {
		result.Issues = append(result.Issues, IntegrityIssue{
			Type:        "dimension_mismatch",
			Severity:    "critical",
			Description: "declared dimension does not match vector length",
			Expected:    fmt.Sprintf("%d", emb.Dimension),
			Actual:      fmt.Sprintf("%d", actual),
		})
	}
	if expectedDimension != 0 && expectedDimension != actual {
		result.Issues = append(result.Issues, IntegrityIssue{
			Type:        "dimension_mismatch",
			Severity:    "high",
			Description: "vector length does not match the expected dimension",
			Expected:    fmt.Sprintf("%d", expectedDimension),
			Actual:      fmt.Sprintf("%d", actual),
		})
	}

	var nanIdx, infIdx []int
	for i, v := range emb.Values {
		if math.IsNaN(v) && len(nanIdx) < 10 {
			nanIdx = append(nanIdx, i)
		}
		if math.IsInf(v, 0) && len(infIdx) < 10 {
			infIdx = append(infIdx, i)
		}
	}
	if len(nanIdx) > 0 {
		result.Issues = append(result.Issues, IntegrityIssue{
			Type:        "nan_values",
			Severity:    "critical",
			Description: "vector contains NaN values",
			Indices:     nanIdx,
		})
	}
	if len(infIdx) > 0 {
		result.Issues = append(result.Issues, IntegrityIssue{
			Type:        "inf_values",
			Severity:    "critical",
			Description: "vector contains infinite values",
			Indices:     infIdx,
		})
	}

	if actual > 0 && len(nanIdx) == 0 && len(infIdx) == 0 {
		if result.Stats.Magnitude < 0.1 {
			result.Issues = append(result.Issues, IntegrityIssue{
				Type:        "zero_vector",
				Severity:    "high",
				Description: fmt.Sprintf("vector magnitude %.4f is near zero", result.Stats.Magnitude),
			})
		} else if result.Stats.Sparsity > 0.95 {
			result.Issues = append(result.Issues, IntegrityIssue{
				Type:        "zero_vector",
				Severity:    "medium",
				Description: fmt.Sprintf("vector sparsity %.2f exceeds 0.95", result.Stats.Sparsity),
			})
		}

		outliers := 0
		lo := result.Stats.Mean - 4*result.Stats.Std
		hi := result.Stats.Mean + 4*result.Stats.Std
		for _, v := range emb.Values {
			if v < lo || v > hi {
				outliers++
			}
		}
		if float64(outliers)/float64(actual) > 0.05 {
			result.Issues = append(result.Issues, IntegrityIssue{
				Type:        "outlier",
				Severity:    "medium",
				Description: fmt.Sprintf("%d values beyond 4 standard deviations", outliers),
			})
		}

		if emb.Checksum != "" {
			computed := Checksum(emb.Values)
			if computed != emb.Checksum {
				result.Issues = append(result.Issues, IntegrityIssue{
					Type:        "checksum_mismatch",
					Severity:    "critical",
					Description: "vector bytes do not match the declared checksum",
					Expected:    emb.Checksum,
					Actual:      computed,
				})
			}
		}
	}

	result.IsValid = true
	for _, issue := range result.Issues {
		if issue.Severity == "critical" || issue.Severity == "high" {
			result.IsValid = false
			break
		}
	}
	return result
}

func computeStats(values []float64) EmbeddingStats {
	stats := EmbeddingStats{Dimension: len(values)}
	if len(values) == 0 {
		return stats
	}

	stats.Min = values[0]
	stats.Max = values[0]
	zeros := 0
	var sum, sumSquares float64
	for _, v := range values {
		sum += v
		sumSquares += v * v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
		if v == 0 {
			zeros++
		}
	}
	n := float64(len(values))
	stats.Mean = sum / n
	stats.Magnitude = math.Sqrt(sumSquares)
	variance := sumSquares/n - stats.Mean*stats.Mean
	if variance > 0 {
		stats.Std = math.Sqrt(variance)
	}
	stats.Sparsity = float64(zeros) / n
	return stats
}
