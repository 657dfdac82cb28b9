// Package ingest turns raw documents and web pages into persisted,
// embedded, indexed chunks. It contains the text splitter, the content
// extractors, and the ingestion orchestrator.
package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"

	strata "github.com/davrell/strata"
)

// Splitter splits text into chunks suitable for embedding or storage.
// Implementations are pure: no I/O, no state, deterministic output for
// identical input, safe for concurrent use.
type Splitter interface {
	Split(text string) []string
}

// RecursiveSplitter splits text by paragraphs, then sentences, then words,
// with adjacent chunks overlapping to preserve context across boundaries.
// Sentence detection skips common abbreviations (Mr., Dr., e.g., i.e.),
// decimal numbers (3.14, $1.50), and handles CJK sentence-ending
// punctuation (。！？).
type RecursiveSplitter struct {
	chunkSize    int // max chunk length in bytes
	chunkOverlap int // overlap carried between adjacent chunks
}

var _ Splitter = (*RecursiveSplitter)(nil)

// NewRecursiveSplitter creates a splitter producing chunks of at most
// chunkSize bytes with chunkOverlap bytes of carry-over. An overlap equal
// to or larger than the chunk size can never converge and is rejected
// before any splitting happens.
func NewRecursiveSplitter(chunkSize, chunkOverlap int) (*RecursiveSplitter, error) {
	if chunkSize <= 0 {
		return nil, strata.Validationf("splitter: chunk size %d must be positive", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, strata.Validationf("splitter: chunk overlap %d must not be negative", chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, strata.Validationf("splitter: chunk overlap %d must be smaller than chunk size %d",
			chunkOverlap, chunkSize)
	}
	return &RecursiveSplitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// MustRecursiveSplitter is NewRecursiveSplitter for statically known
// parameters; it panics on invalid configuration.
func MustRecursiveSplitter(chunkSize, chunkOverlap int) *RecursiveSplitter {
	s, err := NewRecursiveSplitter(chunkSize, chunkOverlap)
	if err != nil {
		panic(err)
	}
	return s
}

// Split returns the ordered chunk sequence for text. Empty or
// whitespace-only input yields nil. A single token longer than the chunk
// size that no separator can break is emitted as one oversized chunk
// rather than silently truncated.
func (s *RecursiveSplitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}
	segments := s.splitRecursive(text)
	return s.mergeWithOverlap(segments)
}

// splitRecursive breaks text into segments no longer than the chunk size,
// trying paragraph boundaries first, then sentences, then words.
func (s *RecursiveSplitter) splitRecursive(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	if len(paragraphs) > 1 {
		var segments []string
		for _, p := range paragraphs {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if len(p) <= s.chunkSize {
				segments = append(segments, p)
			} else {
				segments = append(segments, s.splitSentences(p)...)
			}
		}
		return segments
	}

	if segments := s.splitSentences(text); len(segments) > 1 {
		return segments
	}
	return s.splitWords(text)
}

// splitSentences accumulates whole sentences up to the chunk size, falling
// back to word splitting for any single sentence that is too long.
func (s *RecursiveSplitter) splitSentences(text string) []string {
	boundaries := sentenceBoundaries(text)
	if len(boundaries) == 0 {
		return s.splitWords(text)
	}

	var segments []string
	emit := func(seg string) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return
		}
		if len(seg) <= s.chunkSize {
			segments = append(segments, seg)
		} else {
			segments = append(segments, s.splitWords(seg)...)
		}
	}

	start := 0
	lastGood := -1
	for _, boundary := range boundaries {
		if len(text[start:boundary]) <= s.chunkSize {
			lastGood = boundary
			continue
		}
		if lastGood > start {
			emit(text[start:lastGood])
			start = lastGood
			if len(strings.TrimSpace(text[start:boundary])) <= s.chunkSize {
				lastGood = boundary
			} else {
				lastGood = -1
			}
		} else {
			emit(text[start:boundary])
			start = boundary
			lastGood = -1
		}
	}
	if lastGood > start {
		emit(text[start:lastGood])
		start = lastGood
	}
	emit(text[start:])
	return segments
}

// splitWords packs words into segments up to the chunk size. A single word
// longer than the chunk size becomes its own oversized segment.
func (s *RecursiveSplitter) splitWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var segments []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
	}

	for _, word := range words {
		if len(word) > s.chunkSize {
			flush()
			segments = append(segments, word)
			continue
		}
		needed := len(word)
		if current.Len() > 0 {
			needed += current.Len() + 1
		}
		if needed > s.chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	flush()
	return segments
}

// mergeWithOverlap packs segments into final chunks, carrying a suffix of
// each emitted chunk into the next one.
func (s *RecursiveSplitter) mergeWithOverlap(segments []string) []string {
	if len(segments) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder

	for _, seg := range segments {
		needed := len(seg)
		if current.Len() > 0 {
			needed += current.Len() + 1
		}

		if needed <= s.chunkSize || current.Len() == 0 {
			if current.Len() > 0 {
				current.WriteByte('\n')
			}
			current.WriteString(seg)
			continue
		}

		chunk := current.String()
		chunks = append(chunks, chunk)
		current.Reset()

		overlap := overlapSuffix(chunk, s.chunkOverlap)
		if overlap != "" && len(overlap)+1+len(seg) <= s.chunkSize {
			current.WriteString(overlap)
			current.WriteByte('\n')
		}
		current.WriteString(seg)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	var result []string
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			result = append(result, c)
		}
	}
	return result
}

// overlapSuffix returns the last n bytes of text, trimmed back to a word
// boundary.
func overlapSuffix(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	suffix := text[len(text)-n:]
	if idx := strings.Index(suffix, " "); idx >= 0 {
		return strings.TrimSpace(suffix[idx+1:])
	}
	return strings.TrimSpace(suffix)
}

// abbreviations that should NOT be treated as sentence boundaries.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true,
	"prof": true, "sr": true, "jr": true,
	"vs": true, "etc": true, "inc": true, "ltd": true,
	"e.g": true, "i.e": true, "viz": true, "al": true,
	"approx": true, "dept": true, "est": true,
	"fig": true, "no": true, "vol": true,
}

// isAbbreviation checks if the text ending at the '.' at dotPos is a common
// abbreviation.
func isAbbreviation(text string, dotPos int) bool {
	start := dotPos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	return abbreviations[strings.ToLower(text[start:dotPos])]
}

// isDecimalDot checks if the dot at dotPos is part of a number (3.14, $1.50).
func isDecimalDot(text string, dotPos int) bool {
	if dotPos == 0 || dotPos+1 >= len(text) {
		return false
	}
	prev := text[dotPos-1]
	next := text[dotPos+1]
	return prev >= '0' && prev <= '9' && next >= '0' && next <= '9'
}

// sentenceBoundaries returns byte positions suitable for splitting text at
// sentence boundaries. Handles ASCII punctuation (.!?) with abbreviation
// and decimal awareness, plus CJK sentence-ending punctuation (。！？).
func sentenceBoundaries(text string) []int {
	var boundaries []int
	runes := []rune(text)
	n := len(runes)

	byteOffsets := make([]int, n+1)
	off := 0
	for i, r := range runes {
		byteOffsets[i] = off
		off += utf8.RuneLen(r)
	}
	byteOffsets[n] = off

	for i := 0; i < n; i++ {
		r := runes[i]

		if r == '。' || r == '！' || r == '？' {
			boundaries = append(boundaries, byteOffsets[i+1])
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		dotPos := byteOffsets[i]
		if r == '.' && (isDecimalDot(text, dotPos) || isAbbreviation(text, dotPos)) {
			continue
		}

		// Need whitespace after the punctuation for it to end a sentence.
		if i+1 < n && (runes[i+1] == ' ' || runes[i+1] == '\n') {
			if runes[i+1] == '\n' {
				boundaries = append(boundaries, byteOffsets[i+1])
			} else if i+2 < n && unicode.IsUpper(runes[i+2]) {
				boundaries = append(boundaries, byteOffsets[i+2])
			} else if i+2 >= n {
				boundaries = append(boundaries, byteOffsets[n])
			}
		}
	}
	return boundaries
}
