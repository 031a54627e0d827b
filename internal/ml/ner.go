package ml

import (
	"context"
	"fmt"
	"strings"
)

// BIOLabels is the fixed tag set of the PII detector, in output order.
var BIOLabels = []string{"O", "B-PER", "I-PER", "B-LOC", "I-LOC", "B-ORG", "I-ORG"}

// Entity is a decoded named-entity span over token positions.
type Entity struct {
	Type       string  `json:"type"`  // PER, LOC, ORG
	Text       string  `json:"text"`  // surface form joined from word pieces
	StartToken int     `json:"start_token"`
	EndToken   int     `json:"end_token"` // exclusive
	Confidence float64 `json:"confidence"`
}

// DetectEntities tokenizes text and runs the PII detector. The output tensor
// has shape [1, seqLen, L] over the BIO labels.
func (m *Model) DetectEntities(ctx context.Context, text string) ([]Entity, error) {
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
	seqLen := len(enc.InputIDs)
	if len(logits.Data) < seqLen*len(labels) {
		return nil, fmt.Errorf("model %s logits length %d < %d", m.Config.Name, len(logits.Data), seqLen*len(labels))
	}

	// Per-position probability rows.
	probs := make([][]float64, seqLen)
	for pos := 0; pos < seqLen; pos++ {
		probs[pos] = Softmax(logits.Data[pos*len(labels) : (pos+1)*len(labels)])
	}
	return DecodeBIO(probs, labels, enc.AttentionMask, enc.Tokens), nil
}

// DecodeBIO merges per-position BIO tags into entity spans. Walks positions
// 1..seqLen while the attention mask is set (position 0 is [CLS]). B-X opens
// a span; I-X extends the current span only when its type matches, otherwise
// the open span is flushed and the I tag is dropped; O flushes. Span
// confidence is the arithmetic mean of the per-position winning
// probabilities.
func DecodeBIO(probs [][]float64, labels []string, attentionMask []int64, tokens []string) []Entity {
	var entities []Entity

	var open *Entity
	var openProbs []float64

	flush := func() {
		if open == nil {
			return
		}
		var sum float64
		for _, p := range openProbs {
			sum += p
		}
		open.Confidence = sum / float64(len(openProbs))
		entities = append(entities, *open)
		open, openProbs = nil, nil
	}

	for pos := 1; pos < len(probs) && pos < len(attentionMask); pos++ {
		if attentionMask[pos] != 1 {
			break
		}
		row := probs[pos]
		best := 0
		for i := range row {
			if row[i] > row[best] {
				best = i
			}
		}
		tag := "O"
		if best < len(labels) {
			tag = labels[best]
		}

		switch {
		case strings.HasPrefix(tag, "B-"):
			flush()
			open = &Entity{
				Type:       tag[2:],
				Text:       tokenAt(tokens, pos),
				StartToken: pos,
				EndToken:   pos + 1,
			}
			openProbs = []float64{row[best]}

		case strings.HasPrefix(tag, "I-"):
			if open != nil && open.Type == tag[2:] {
				open.Text = joinPiece(open.Text, tokenAt(tokens, pos))
				open.EndToken = pos + 1
				openProbs = append(openProbs, row[best])
			} else {
				// Orphan I tag: flush whatever is open and drop the tag.
				flush()
			}

		default: // O
			flush()
		}
	}
	flush()
	return entities
}

func tokenAt(tokens []string, pos int) string {
	if pos < len(tokens) {
		return tokens[pos]
	}
	return ""
}

// joinPiece appends a word piece to a surface form, gluing "##"
// continuations and spacing whole words.
func joinPiece(text, piece string) string {
	if rest, ok := strings.CutPrefix(piece, "##"); ok {
		return text + rest
	}
	if text == "" {
		return piece
	}
	return text + " " + piece
}
