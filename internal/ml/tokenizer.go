// Package ml hosts the WordPiece tokenizer, the inference-session
// abstraction, and the decoders for the two recognized models: the
// injection classifier and the BIO-tagged PII detector.
//
// No inference runtime is linked into this binary. Sessions are bound at
// startup by the embedding host; when a model has no session the callers
// degrade gracefully and the pipeline continues with its other stages.
package ml

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Special tokens required by the vocabulary. A missing special token falls
// back to id 0.
const (
	TokenUnknown   = "[UNK]"
	TokenPadding   = "[PAD]"
	TokenClassify  = "[CLS]"
	TokenSeparator = "[SEP]"
)

// Tokenizer is a WordPiece tokenizer over a fixed vocabulary. The vocabulary
// file carries one token per line; the line number is the token id.
type Tokenizer struct {
	vocab     map[string]int64
	unkID     int64
	padID     int64
	clsID     int64
	sepID     int64
	maxLength int
}

// Encoding is the model input: three parallel int64 arrays of length
// maxLength plus the surface tokens for span reconstruction.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	Tokens        []string
}

// NewTokenizer builds a tokenizer from an in-memory vocabulary.
func NewTokenizer(vocab []string, maxLength int) *Tokenizer {
	if maxLength <= 0 {
		maxLength = 128
	}
	t := &Tokenizer{
		vocab:     make(map[string]int64, len(vocab)),
		maxLength: maxLength,
	}
	for i, tok := range vocab {
		if _, exists := t.vocab[tok]; !exists {
			t.vocab[tok] = int64(i)
		}
	}
	t.unkID = t.lookupSpecial(TokenUnknown)
	t.padID = t.lookupSpecial(TokenPadding)
	t.clsID = t.lookupSpecial(TokenClassify)
	t.sepID = t.lookupSpecial(TokenSeparator)
	return t
}

// LoadTokenizer reads a vocabulary file (one token per line).
func LoadTokenizer(path string, maxLength int) (*Tokenizer, error) {
	f, err := os.Open(path) // #nosec G304 -- vocab path from trusted model dir
	if err != nil {
		return nil, fmt.Errorf("opening vocab file: %w", err)
	}
	defer f.Close()

	var vocab []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		vocab = append(vocab, strings.TrimRight(scanner.Text(), "\r\n"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocab file: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab file %s is empty", path)
	}
	return NewTokenizer(vocab, maxLength), nil
}

func (t *Tokenizer) lookupSpecial(token string) int64 {
	if id, ok := t.vocab[token]; ok {
		return id
	}
	return 0
}

// MaxLength returns the fixed sequence length of every encoding.
func (t *Tokenizer) MaxLength() int { return t.maxLength }

// Encode tokenizes text into a fixed-length encoding: lowercase, split on
// whitespace and ASCII punctuation, then greedy longest-prefix WordPiece
// matching with "##" continuation pieces. Content is truncated to
// maxLength-2 and bracketed by [CLS] and [SEP].
func (t *Tokenizer) Encode(text string) Encoding {
	words := splitBasic(strings.ToLower(text))

	contentCap := t.maxLength - 2
	var ids []int64
	var tokens []string
	for _, word := range words {
		if len(ids) >= contentCap {
			break
		}
		for _, piece := range t.wordpiece(word) {
			if len(ids) >= contentCap {
				break
			}
			ids = append(ids, piece.id)
			tokens = append(tokens, piece.token)
		}
	}

	enc := Encoding{
		InputIDs:      make([]int64, t.maxLength),
		AttentionMask: make([]int64, t.maxLength),
		TokenTypeIDs:  make([]int64, t.maxLength),
		Tokens:        make([]string, t.maxLength),
	}

	enc.InputIDs[0] = t.clsID
	enc.AttentionMask[0] = 1
	enc.Tokens[0] = TokenClassify
	for i, id := range ids {
		enc.InputIDs[i+1] = id
		enc.AttentionMask[i+1] = 1
		enc.Tokens[i+1] = tokens[i]
	}
	sepPos := len(ids) + 1
	enc.InputIDs[sepPos] = t.sepID
	enc.AttentionMask[sepPos] = 1
	enc.Tokens[sepPos] = TokenSeparator
	for i := sepPos + 1; i < t.maxLength; i++ {
		enc.InputIDs[i] = t.padID
		enc.Tokens[i] = TokenPadding
	}
	return enc
}

type piece struct {
	token string
	id    int64
}

// wordpiece applies greedy longest-prefix matching. A word with no matchable
// prefix becomes a single [UNK].
func (t *Tokenizer) wordpiece(word string) []piece {
	if word == "" {
		return nil
	}
	if id, ok := t.vocab[word]; ok {
		return []piece{{word, id}}
	}

	var pieces []piece
	start := 0
	for start < len(word) {
		end := len(word)
		var matched string
		var matchedID int64
		found := false
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				matched, matchedID, found = sub, id, true
				break
			}
			end--
		}
		if !found {
			// Unsplittable remainder collapses the whole word to [UNK].
			return []piece{{TokenUnknown, t.unkID}}
		}
		pieces = append(pieces, piece{matched, matchedID})
		start = end
	}
	return pieces
}

// splitBasic splits on whitespace and ASCII punctuation; each punctuation
// character becomes its own token.
func splitBasic(text string) []string {
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		case isASCIIPunct(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}

func isASCIIPunct(r rune) bool {
	switch {
	case r >= '!' && r <= '/':
		return true
	case r >= ':' && r <= '@':
		return true
	case r >= '[' && r <= '`':
		return true
	case r >= '{' && r <= '~':
		return true
	}
	return false
}
