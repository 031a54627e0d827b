package patterns

import (
	"unicode"
)

// maxInvisibleHits bounds the invisible-character scan; a handful of hits is
// enough to flag a document.
const maxInvisibleHits = 50

// IsInvisible reports whether r belongs to the fixed invisible-character set:
// U+200B..U+200F, U+2060..U+2064, U+FEFF and U+00AD.
func IsInvisible(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F:
		return true
	case r >= 0x2060 && r <= 0x2064:
		return true
	case r == 0xFEFF, r == 0x00AD:
		return true
	}
	return false
}

// InvisibleScan is the result of scanning a document for invisible characters.
type InvisibleScan struct {
	Count     int  // capped at maxInvisibleHits
	FirstSpan Span // first occurrence; zero value when Count == 0
	Truncated bool // true when the scan stopped at the cap
}

// ScanInvisible counts invisible characters in text, stopping after 50
// occurrences.
func ScanInvisible(text string) InvisibleScan {
	var scan InvisibleScan
	for i, r := range text {
		if !IsInvisible(r) {
			continue
		}
		if scan.Count == 0 {
			scan.FirstSpan = Span{Start: i, End: i + len(string(r)), Matched: string(r)}
		}
		scan.Count++
		if scan.Count >= maxInvisibleHits {
			scan.Truncated = true
			break
		}
	}
	return scan
}

// IsHomoglyph reports whether r falls in one of the script ranges used to
// disguise Latin text: Cyrillic, fullwidth forms, and letterlike symbols.
func IsHomoglyph(r rune) bool {
	switch {
	case r >= 0x0400 && r <= 0x04FF: // Cyrillic
		return true
	case r >= 0xFF01 && r <= 0xFF5E: // Fullwidth
		return true
	case r >= 0x2100 && r <= 0x214F: // Letterlike
		return true
	}
	return false
}

// CountHomoglyphs returns the number of homoglyph-range runes in text and the
// first occurrence span.
func CountHomoglyphs(text string) (int, Span) {
	count := 0
	var first Span
	for i, r := range text {
		if !IsHomoglyph(r) {
			continue
		}
		if count == 0 {
			first = Span{Start: i, End: i + len(string(r)), Matched: string(r)}
		}
		count++
	}
	return count, first
}

// HasLatinWord reports whether text contains a run of at least minLen Latin
// letters. Homoglyph hits only matter when mixed with real Latin words.
func HasLatinWord(text string, minLen int) bool {
	run := 0
	for _, r := range text {
		if r < 128 && unicode.IsLetter(r) {
			run++
			if run >= minLen {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// IsHangul reports whether r falls in the Hangul syllable, jamo, or
// compatibility-jamo blocks.
func IsHangul(r rune) bool {
	switch {
	case r >= 0xAC00 && r <= 0xD7AF:
		return true
	case r >= 0x1100 && r <= 0x11FF:
		return true
	case r >= 0x3130 && r <= 0x318F:
		return true
	}
	return false
}
