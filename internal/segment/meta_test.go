package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaRoundTrip(t *testing.T) {
	m := Meta{Path: "notes/a.md", ChunkID: "abc", Off: 10, Len: 20, Hash: "sha256:00"}
	line, err := MarshalMeta(m)
	require.NoError(t, err)
	assert.NotContains(t, line, "heading")
	assert.NotContains(t, line, "\n")

	got, err := ParseMeta(line)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = ParseMeta("{not json")
	assert.Error(t, err)
}

func TestLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Lines("a\n\n  b  \n"))
	assert.Empty(t, Lines(""))
	assert.Empty(t, Lines("\n \n"))

	doc := JoinLines([]string{"x", "y"})
	assert.Equal(t, "x\ny\n", doc)
	assert.Equal(t, []string{"x", "y"}, Lines(doc))
	assert.Equal(t, "", JoinLines(nil))
}
