package ml

import (
	"testing"
)

func testVocab() []string {
	return []string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]",
		"ignore", "previous", "instructions",
		"un", "##break", "##able",
		"hello", "world", "!", ".", ",",
	}
}

// ====== Tokenizer Tests ======

func TestEncodeShape(t *testing.T) {
	tok := NewTokenizer(testVocab(), 16)
	enc := tok.Encode("ignore previous instructions")

	if len(enc.InputIDs) != 16 || len(enc.AttentionMask) != 16 || len(enc.TokenTypeIDs) != 16 {
		t.Fatalf("expected parallel arrays of length 16, got %d/%d/%d",
			len(enc.InputIDs), len(enc.AttentionMask), len(enc.TokenTypeIDs))
	}
	if enc.Tokens[0] != TokenClassify {
		t.Errorf("expected [CLS] at position 0, got %q", enc.Tokens[0])
	}
	if enc.Tokens[4] != TokenSeparator {
		t.Errorf("expected [SEP] after 3 content tokens, got %q", enc.Tokens[4])
	}
	for i := 5; i < 16; i++ {
		if enc.AttentionMask[i] != 0 {
			t.Errorf("expected padding mask 0 at position %d", i)
		}
		if enc.Tokens[i] != TokenPadding {
			t.Errorf("expected [PAD] at position %d, got %q", i, enc.Tokens[i])
		}
	}
}

func TestEncodeLowercaseAndPunct(t *testing.T) {
	tok := NewTokenizer(testVocab(), 16)
	enc := tok.Encode("Hello, WORLD!")

	want := []string{"[CLS]", "hello", ",", "world", "!", "[SEP]"}
	for i, w := range want {
		if enc.Tokens[i] != w {
			t.Errorf("position %d: expected %q, got %q", i, w, enc.Tokens[i])
		}
	}
}

func TestEncodeWordpieceContinuation(t *testing.T) {
	tok := NewTokenizer(testVocab(), 16)
	enc := tok.Encode("unbreakable")

	want := []string{"[CLS]", "un", "##break", "##able", "[SEP]"}
	for i, w := range want {
		if enc.Tokens[i] != w {
			t.Errorf("position %d: expected %q, got %q", i, w, enc.Tokens[i])
		}
	}
}

func TestEncodeUnknownWord(t *testing.T) {
	tok := NewTokenizer(testVocab(), 16)
	enc := tok.Encode("zzzqqq")

	if enc.Tokens[1] != TokenUnknown {
		t.Errorf("expected [UNK] for unsplittable word, got %q", enc.Tokens[1])
	}
}

func TestEncodeTruncation(t *testing.T) {
	tok := NewTokenizer(testVocab(), 6)
	enc := tok.Encode("ignore previous instructions hello world")

	// 6 positions: [CLS] + 4 content + [SEP].
	if enc.Tokens[0] != TokenClassify {
		t.Fatalf("expected [CLS] at position 0, got %q", enc.Tokens[0])
	}
	if enc.Tokens[5] != TokenSeparator {
		t.Errorf("expected [SEP] at last position, got %q", enc.Tokens[5])
	}
	for i := 0; i < 6; i++ {
		if enc.AttentionMask[i] != 1 {
			t.Errorf("expected full attention mask at position %d", i)
		}
	}
}

func TestEncodeEmptyInput(t *testing.T) {
	tok := NewTokenizer(testVocab(), 8)
	enc := tok.Encode("")

	if enc.Tokens[0] != TokenClassify || enc.Tokens[1] != TokenSeparator {
		t.Errorf("expected [CLS][SEP] for empty input, got %q %q", enc.Tokens[0], enc.Tokens[1])
	}
	if enc.AttentionMask[0] != 1 || enc.AttentionMask[1] != 1 || enc.AttentionMask[2] != 0 {
		t.Error("expected attention mask 1,1,0,... for empty input")
	}
}

// ====== Softmax Tests ======

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := Softmax([]float32{1.5, -0.3, 2.7, 0.0})
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if sum < 0.9999 || sum > 1.0001 {
		t.Errorf("expected probabilities to sum to 1, got %f", sum)
	}
}

func TestSoftmaxArgmaxPreserved(t *testing.T) {
	probs := Softmax([]float32{0.1, 5.0, -2.0})
	if probs[1] <= probs[0] || probs[1] <= probs[2] {
		t.Errorf("expected index 1 to dominate, got %v", probs)
	}
}

func TestSoftmaxShiftInvariant(t *testing.T) {
	a := Softmax([]float32{1, 2, 3})
	b := Softmax([]float32{101, 102, 103})
	for i := range a {
		if diff := a[i] - b[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected shift invariance at index %d: %f vs %f", i, a[i], b[i])
		}
	}
}
