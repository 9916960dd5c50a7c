package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/semindex/internal/errs"
)

func mustNew(t *testing.T, opts Options) *Chunker {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func assertOffsets(t *testing.T, text string, chunks []Chunk) {
	t.Helper()
	for _, c := range chunks {
		require.LessOrEqual(t, c.Offset+c.Length, len(text))
		assert.Equal(t, c.Content, text[c.Offset:c.Offset+c.Length])
	}
}

func contents(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

func TestChunk_IdenticalNormalizedTextSharesID(t *testing.T) {
	c := mustNew(t, DefaultOptions())

	a := c.Chunk("Hello   World\nsecond line")
	b := c.Chunk("hello world\nSECOND    line")
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)

	other := c.Chunk("something else")
	assert.NotEqual(t, a[0].ID, other[0].ID)
}

func TestChunk_Headings(t *testing.T) {
	c := mustNew(t, DefaultOptions())
	text := "# Alpha\npara a\n## Beta\npara b"

	chunks := c.Chunk(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, "# Alpha\npara a", chunks[0].Content)
	assert.Equal(t, "Alpha", chunks[0].Heading)
	assert.Equal(t, "## Beta\npara b", chunks[1].Content)
	assert.Equal(t, "Beta", chunks[1].Heading)
	assertOffsets(t, text, chunks)
}

func TestChunk_HeadingsIgnoredWhenDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.RespectHeadings = false
	c := mustNew(t, opts)

	chunks := c.Chunk("# Alpha\npara a\n## Beta\npara b")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Beta", chunks[0].Heading)
}

func TestChunk_MaxTokensWithOverlap(t *testing.T) {
	c := mustNew(t, Options{MinTokens: 0, MaxTokens: 10, OverlapTokens: 5})

	l := func(s string) string { return strings.Repeat("a", 19) + s } // 5 tokens
	text := strings.Join([]string{l("1"), l("2"), l("3"), l("4")}, "\n")

	chunks := c.Chunk(text)
	assert.Equal(t, []string{
		l("1") + "\n" + l("2"),
		l("2") + "\n" + l("3"),
		l("3") + "\n" + l("4"),
	}, contents(chunks))
	assert.Equal(t, 0, chunks[0].Offset)
	assert.Equal(t, 21, chunks[1].Offset)
	assert.Equal(t, 42, chunks[2].Offset)
	assertOffsets(t, text, chunks)
}

func TestChunk_CodeFenceSuppressesBreaks(t *testing.T) {
	c := mustNew(t, Options{MinTokens: 0, MaxTokens: 10, OverlapTokens: 0, RespectCodeFences: true, RespectHeadings: true})

	body := strings.Repeat(strings.Repeat("x", 20)+"\n", 6)
	text := "```go\n" + body + "# not a heading\n\n---\n```"

	chunks := c.Chunk(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
	assert.Empty(t, chunks[0].Heading)
}

func TestChunk_DividerIsForced(t *testing.T) {
	c := mustNew(t, DefaultOptions())
	text := "intro\n---\nafter"

	chunks := c.Chunk(text)
	assert.Equal(t, []string{"intro\n---", "after"}, contents(chunks))
	assertOffsets(t, text, chunks)
}

func TestChunk_NaturalBreakNeedsMinTokens(t *testing.T) {
	text := "para one\n\npara two"

	c := mustNew(t, DefaultOptions())
	assert.Equal(t, []string{text}, contents(c.Chunk(text)))

	c = mustNew(t, Options{MinTokens: 0, MaxTokens: 300, OverlapTokens: 50})
	chunks := c.Chunk(text)
	assert.Equal(t, []string{"para one\n", "para two"}, contents(chunks))
	assertOffsets(t, text, chunks)
}

func TestChunk_ListBoundary(t *testing.T) {
	text := "- a\n- b\ntext after"

	c := mustNew(t, Options{MinTokens: 0, MaxTokens: 300, OverlapTokens: 50, RespectLists: true})
	assert.Equal(t, []string{"- a\n- b", "text after"}, contents(c.Chunk(text)))

	c = mustNew(t, Options{MinTokens: 0, MaxTokens: 300, OverlapTokens: 50})
	assert.Equal(t, []string{text}, contents(c.Chunk(text)))
}

func TestChunk_DropsBlankChunks(t *testing.T) {
	c := mustNew(t, DefaultOptions())
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("\n\n  \n"))
}

func TestChunk_MultiByteOffsets(t *testing.T) {
	c := mustNew(t, DefaultOptions())
	text := "# Über\nnaïve café\n# Zweite\nmehr"

	chunks := c.Chunk(text)
	require.Len(t, chunks, 2)
	assertOffsets(t, text, chunks)
	assert.Equal(t, len("# Über\nnaïve café\n"), chunks[1].Offset)
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	for _, opts := range []Options{
		{MaxTokens: 0},
		{MinTokens: 20, MaxTokens: 10},
		{MaxTokens: 10, OverlapTokens: 10},
		{MaxTokens: 10, OverlapTokens: -1},
	} {
		_, err := New(opts)
		assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 4, EstimateTokens("one two three four"))
	assert.Equal(t, 3, EstimateTokens("a b c d"))
	assert.Equal(t, 1, EstimateTokens("ääää"))
}
