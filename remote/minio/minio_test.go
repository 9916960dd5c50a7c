package minio

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/hupe1980/semindex/remote"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Keys(t *testing.T) {
	s := NewStore(nil, "bucket", "/vault/")
	assert.Equal(t, "vault/snap/a.bin", s.key("snap/a.bin"))
	assert.Equal(t, "snap/a.bin", s.name("vault/snap/a.bin"))

	bare := NewStore(nil, "bucket", "")
	assert.Equal(t, "snap/a.bin", bare.key("snap/a.bin"))
	assert.Equal(t, "snap/a.bin", bare.name("snap/a.bin"))
}

func TestMapError(t *testing.T) {
	assert.Equal(t, remote.ErrNotFound, mapError(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.Equal(t, remote.ErrNotFound, mapError(minio.ErrorResponse{Code: "NotFound"}))

	denied := minio.ErrorResponse{Code: "AccessDenied"}
	assert.Equal(t, error(denied), mapError(denied))

	other := errors.New("boom")
	assert.Equal(t, other, mapError(other))
}

// TestStore_Integration requires a running MinIO instance.
func TestStore_Integration(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	const bucket = "test-semindex"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")
	data := "hello minio world"
	require.NoError(t, store.Put(ctx, "snap/test.txt", strings.NewReader(data), int64(len(data))))

	rc, err := store.Get(ctx, "snap/test.txt")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, string(got))

	names, err := store.List(ctx, "snap/")
	require.NoError(t, err)
	assert.Contains(t, names, "snap/test.txt")

	require.NoError(t, store.Delete(ctx, "snap/test.txt"))
	_, err = store.Get(ctx, "snap/test.txt")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}
