package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_ShortTextSingleChunk(t *testing.T) {
	c := New("", 50, 10)
	chunks := c.Chunk("The user prefers dark mode. It reduces eye strain at night.")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestChunk_LongTextSplitsWithOverlap(t *testing.T) {
	sentence := "The quick brown fox jumps over the lazy dog repeatedly today."
	text := strings.Repeat(sentence+" ", 20)

	c := New("", 30, 8)
	chunks := c.Chunk(text)
	require.True(t, len(chunks) > 1, "expected multiple chunks for long input")

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.NotEmpty(t, ch.Text)
	}
}

func TestChunk_EmptyTextProducesNoChunks(t *testing.T) {
	c := New("", 50, 10)
	assert.Empty(t, c.Chunk("   "))
}

func TestChunk_IndicesAreDeterministicAcrossRuns(t *testing.T) {
	text := strings.Repeat("Stable repeated content for chunk boundaries. ", 15)
	c := New("", 20, 5)

	first := c.Chunk(text)
	second := c.Chunk(text)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Index, second[i].Index)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
}

func TestChunkID_IsDeterministic(t *testing.T) {
	assert.Equal(t, "note-123:0", ChunkID("note-123", 0))
	assert.Equal(t, "note-123:1", ChunkID("note-123", 1))
}

func TestChunk_OversizedSentenceFallsBackToFixedWindows(t *testing.T) {
	words := make([]string, 200)
	for i := range words {
		words[i] = "word"
	}
	oneSentence := strings.Join(words, " ") + "."

	c := New("", 30, 8)
	chunks := c.Chunk(oneSentence)
	require.True(t, len(chunks) > 1, "expected a single oversized sentence to be window-sliced")
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, len(c.Tokens(ch.Text)), 30)
	}
}

func TestSplitSentences_DoesNotSplitDecimalOrAbbreviation(t *testing.T) {
	out := splitSentences("The value is 3.14 and stable. Next sentence here.")
	require.Len(t, out, 2)
	assert.Contains(t, out[0], "3.14")
}
