// Package chunker splits note text into overlapping, token-bounded chunks
// with deterministic chunk indices so that re-chunking an unchanged note
// reproduces identical (note_id, chunk_index) keys.
package chunker

import (
	"fmt"
	"strings"
)

// Chunk is one slice of a note's text, in order.
type Chunk struct {
	Index int
	Text  string
}

// Chunker splits text into Chunks bounded by maxTokens with overlapTokens
// of trailing context repeated into the next chunk.
type Chunker struct {
	tokenizer     Tokenizer
	maxTokens     int
	overlapTokens int
}

// New constructs a Chunker. tokenizerID selects the token counter
// (currently only the whitespace/punctuation fallback is available; see
// tokenizer.go). maxTokens must be positive; overlapTokens must be less
// than maxTokens.
func New(tokenizerID string, maxTokens, overlapTokens int) *Chunker {
	return &Chunker{
		tokenizer:     NewTokenizer(tokenizerID),
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
	}
}

// ChunkID returns the deterministic chunk identifier for (noteID, index).
func ChunkID(noteID string, index int) string {
	return fmt.Sprintf("%s:%d", noteID, index)
}

// Tokens exposes the chunker's configured tokenizer so callers that need
// the same token boundaries for a downstream purpose (the worker's sparse
// bag-of-words vector) don't have to construct their own tokenizer.
func (c *Chunker) Tokens(s string) []string {
	return c.tokenizer.Tokens(s)
}

// Chunk splits text into ordered chunks. A note shorter than maxTokens
// produces exactly one chunk whose index is always 0, so unchunked notes
// and single-chunk notes share the same addressing scheme.
func (c *Chunker) Chunk(text string) []Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var cur []string
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(cur, " "))
		if joined == "" {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: joined})
	}

	for _, s := range sentences {
		sTokens := len(c.tokenizer.Tokens(s))
		if sTokens > c.maxTokens {
			// A single sentence can't fit even on its own; flush whatever is
			// pending, then fall back to fixed token-window slicing with
			// overlap so chunk size stays bounded regardless of prose shape.
			flush()
			cur = nil
			curTokens = 0
			for _, w := range windowSentence(c.tokenizer, s, c.maxTokens, c.overlapTokens) {
				chunks = append(chunks, Chunk{Index: len(chunks), Text: w})
			}
			continue
		}
		if curTokens > 0 && curTokens+sTokens > c.maxTokens {
			flush()
			cur = overlapTail(cur, c.tokenizer, c.overlapTokens)
			curTokens = 0
			for _, t := range cur {
				curTokens += len(c.tokenizer.Tokens(t))
			}
		}
		cur = append(cur, s)
		curTokens += sTokens
	}
	flush()

	return chunks
}

// windowSentence slices an oversized sentence into fixed token windows with
// overlapTokens of repeated trailing context between consecutive windows.
func windowSentence(tok Tokenizer, s string, maxTokens, overlapTokens int) []string {
	tokens := tok.Tokens(s)
	if len(tokens) == 0 {
		return nil
	}
	step := maxTokens - overlapTokens
	if step <= 0 {
		step = maxTokens
	}
	var out []string
	for start := 0; start < len(tokens); start += step {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		window := strings.TrimSpace(strings.Join(tokens[start:end], " "))
		if window != "" {
			out = append(out, window)
		}
		if end == len(tokens) {
			break
		}
	}
	return out
}

// overlapTail returns the trailing sentences of cur whose combined token
// count is closest to, without exceeding, overlapTokens. It seeds the next
// chunk with recent context so embeddings near a boundary still see it.
func overlapTail(cur []string, tok Tokenizer, overlapTokens int) []string {
	if overlapTokens <= 0 || len(cur) == 0 {
		return nil
	}
	total := 0
	start := len(cur)
	for i := len(cur) - 1; i >= 0; i-- {
		n := len(tok.Tokens(cur[i]))
		if total+n > overlapTokens && total > 0 {
			break
		}
		total += n
		start = i
	}
	tail := make([]string, len(cur)-start)
	copy(tail, cur[start:])
	return tail
}

// splitSentences splits on sentence-ending punctuation followed by
// whitespace, falling back to the whole trimmed string when no boundary is
// found. It is a heuristic, not a full sentence segmenter: good enough for
// bounding chunk size without cutting mid-word.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '.' || r == '!' || r == '?' {
			// Require a following space/newline or end-of-string so we don't
			// split on "3.14" or "Dr." mid-token.
			if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				sentence := strings.TrimSpace(string(runes[start : i+1]))
				if sentence != "" {
					out = append(out, sentence)
				}
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		rest := strings.TrimSpace(string(runes[start:]))
		if rest != "" {
			out = append(out, rest)
		}
	}
	if len(out) == 0 {
		out = append(out, text)
	}
	return out
}
