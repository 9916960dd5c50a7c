package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/semindex"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "semindex.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "docs: /vault\n"))
	require.NoError(t, err)

	assert.Equal(t, "/vault", cfg.Docs)
	assert.Equal(t, semindex.DefaultRoot, cfg.Root)
	assert.Equal(t, "hash", cfg.Embed.Provider)
	assert.Equal(t, []string{".md"}, cfg.Index.Extensions)
	assert.Equal(t, semindex.DefaultIgnore(), cfg.Index.Ignore)
	assert.Equal(t, int64(semindex.DefaultMemoryLimit>>20), cfg.Index.MemoryLimitMB)
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 3*time.Second, cfg.Watch.MaxDelay)
	assert.Equal(t, "hybrid", cfg.Search.Mode)
	assert.Equal(t, semindex.DefaultSearchOptions().K, cfg.Search.K)
	assert.Equal(t, "zstd", cfg.Remote.Codec)
	assert.True(t, cfg.Remote.Secure)
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
docs: /vault
index_dir: /var/lib/semindex
log:
  level: debug
  format: json
index:
  extensions: [".md", ".txt"]
  reconcile_interval: 90s
search:
  k: 7
  mode: lexical
watch:
  debounce: 50ms
remote:
  kind: minio
  bucket: notes
  endpoint: localhost:9000
  secure: false
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/semindex", cfg.IndexDir)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{".md", ".txt"}, cfg.Index.Extensions)
	assert.Equal(t, 90*time.Second, cfg.Index.ReconcileInterval)
	assert.Equal(t, 7, cfg.Search.K)
	assert.Equal(t, "lexical", cfg.Search.Mode)
	assert.Equal(t, 50*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "minio", cfg.Remote.Kind)
	assert.False(t, cfg.Remote.Secure)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", level.String())
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("SEMINDEX_SEARCH_K", "3")
	t.Setenv("SEMINDEX_EMBEDDER_PROVIDER", "openai")
	t.Setenv("SEMINDEX_EMBEDDER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadConfig(writeConfig(t, "docs: /vault\nsearch:\n  k: 9\n"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Search.K)
	assert.Equal(t, "openai", cfg.Embed.Provider)
	assert.Equal(t, "sk-test", cfg.Embed.APIKey)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"provider", "embedder:\n  provider: word2vec\n"},
		{"openai without key", "embedder:\n  provider: openai\n  api_key: \"\"\n"},
		{"dims", "embedder:\n  dims: -1\n"},
		{"mode", "search:\n  mode: fuzzy\n"},
		{"level", "log:\n  level: loud\n"},
		{"format", "log:\n  format: xml\n"},
	}
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SEMINDEX_EMBEDDER_API_KEY", "")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSnapshotOptions(t *testing.T) {
	_, err := snapshotOptions(RemoteConfig{Codec: "brotli"}, "")
	assert.Error(t, err)

	opts, err := snapshotOptions(RemoteConfig{Codec: "lz4", Prefix: "vault"}, "other")
	require.NoError(t, err)
	assert.Len(t, opts, 2)
}

func TestRemoteStore_Validation(t *testing.T) {
	ctx := t.Context()

	_, err := remoteStore(ctx, RemoteConfig{Kind: "s3"})
	assert.Error(t, err)

	_, err = remoteStore(ctx, RemoteConfig{Kind: "minio", Bucket: "notes"})
	assert.Error(t, err)

	_, err = remoteStore(ctx, RemoteConfig{Kind: "ftp", Bucket: "notes"})
	assert.Error(t, err)

	st, err := remoteStore(ctx, RemoteConfig{Kind: "minio", Bucket: "notes", Endpoint: "localhost:9000"})
	require.NoError(t, err)
	assert.NotNil(t, st)
}
