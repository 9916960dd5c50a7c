package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupVault(t *testing.T) string {
	t.Helper()
	docs := t.TempDir()
	files := map[string]string{
		"notes/cats.md":   "# Cats\n\nThe cat likes to purr on the sofa.\n",
		"notes/dogs.md":   "# Dogs\n\nThe dog barks at the mailman.\n",
		"journal/day1.md": "# Monday\n\nWent hiking in the mountains.\n",
		"readme.txt":      "not indexed",
	}
	for rel, body := range files {
		p := filepath.Join(docs, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}

	cfg := fmt.Sprintf("docs: %q\nlog:\n  level: error\nembedder:\n  dims: 32\n", docs)
	p := filepath.Join(t.TempDir(), "semindex.yaml")
	require.NoError(t, os.WriteFile(p, []byte(cfg), 0o600))
	return p
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(t.Context(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCmd(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Commands:")

	code, _, stderr = runCmd(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)

	code, _, _ = runCmd(t, "search", "-nope")
	assert.Equal(t, 2, code)
}

func TestRun_IndexSearchVerify(t *testing.T) {
	cfg := setupVault(t)

	code, out, stderr := runCmd(t, "index", "-config", cfg)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "scanned 3")
	assert.Contains(t, out, "3 documents")

	code, out, stderr = runCmd(t, "search", "-config", cfg, "-mode", "lexical", "purr")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "notes/cats.md")
	assert.NotContains(t, out, "notes/dogs.md")

	code, out, stderr = runCmd(t, "search", "-config", cfg, "-json", "-folder", "journal", "hiking")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "journal/day1.md")
	assert.NotContains(t, out, "notes/")

	code, out, stderr = runCmd(t, "verify", "-config", cfg)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, `"ok": true`)

	code, out, stderr = runCmd(t, "stats", "-config", cfg)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "semindex/hash")

	code, out, stderr = runCmd(t, "rebuild", "-config", cfg)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "rebuilt 3 documents")
}

func TestRun_SearchRequiresQuery(t *testing.T) {
	cfg := setupVault(t)

	code, _, stderr := runCmd(t, "search", "-config", cfg)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "query is required")
}

func TestRun_ExportNeedsBucket(t *testing.T) {
	cfg := setupVault(t)

	code, _, stderr := runCmd(t, "export", "-config", cfg)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "remote.bucket")
}
