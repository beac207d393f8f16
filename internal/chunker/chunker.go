// Package chunker provides text normalization and size-bounded chunking for embedding.
package chunker

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/hyperjump/kiji/pkg/utils"
)

// Chunk size policy. SoftLimit is the packing target; MaxChunkLen is the hard
// provider bound applied by the final filter.
const (
	MinChunkLen = 10
	MaxChunkLen = 8000
	SoftLimit   = 7500
)

// Clean normalizes text to NFC, strips control, non-printable, and zero-width
// characters, collapses whitespace runs to single spaces, and trims.
// Deterministic and idempotent.
func Clean(text string) string {
	text = norm.NFC.String(text)
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := true
	for _, r := range text {
		switch {
		case isZeroWidth(r):
			// dropped without acting as a word boundary
		case unicode.IsSpace(r):
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		case unicode.IsControl(r) || !unicode.IsPrint(r):
			// dropped
		default:
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return false
}

// Split cleans text and cuts it into chunks. Returns nil when the cleaned
// text is shorter than MinChunkLen; a single chunk when it fits the soft
// limit; otherwise sentences are greedily packed up to the soft limit, with
// fixed-width slicing as a fallback when no sentence boundary is found.
// Every returned chunk has length within [MinChunkLen, MaxChunkLen].
func Split(text string) []string {
	cleaned := Clean(text)
	if len(cleaned) < MinChunkLen {
		return nil
	}
	if len(cleaned) <= SoftLimit {
		return []string{cleaned}
	}

	var chunks []string
	sentences := splitSentences(cleaned)
	if len(sentences) == 0 {
		chunks = sliceFixed(cleaned)
	} else {
		chunks = packSentences(sentences)
	}

	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if len(c) >= MinChunkLen && len(c) <= MaxChunkLen {
			out = append(out, c)
		}
	}
	return out
}

// splitSentences cuts cleaned text at ., !, or ? followed by a space (or end
// of text). A trailing fragment without terminal punctuation is kept. Returns
// nil when no boundary exists at all, so the caller falls back to fixed-width
// slicing instead of treating the whole text as one oversize sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if len(sentences) == 0 {
		return nil
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// packSentences greedily joins sentences into chunks not exceeding SoftLimit.
// A single sentence longer than the limit is hard-truncated at the limit.
func packSentences(sentences []string) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, s := range sentences {
		if len(s) > SoftLimit {
			flush()
			chunks = append(chunks, utils.TruncateBytes(s, SoftLimit))
			continue
		}
		joined := len(s)
		if cur.Len() > 0 {
			joined += cur.Len() + 1
		}
		if joined > SoftLimit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	flush()
	return chunks
}

// sliceFixed cuts text into SoftLimit-sized slices on rune-safe boundaries.
func sliceFixed(text string) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= SoftLimit {
			chunks = append(chunks, text)
			break
		}
		head := utils.TruncateBytes(text, SoftLimit)
		chunks = append(chunks, head)
		text = text[len(head):]
	}
	return chunks
}
