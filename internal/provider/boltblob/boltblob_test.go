package boltblob

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadBlob(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blobs.bolt")

	p, err := Open(path, 0)
	require.NoError(t, err)

	k1, err := p.WriteBlob(ctx, blob.NewStringBlob("foo", blob.WithMimeType("text/plain"), blob.WithEncoding("utf-8")))
	require.NoError(t, err)
	k2, err := p.WriteBlob(ctx, blob.NewStringBlob("bar"))
	require.NoError(t, err)
	assert.Equal(t, "1", k1)
	assert.Equal(t, "2", k2)

	n, err := p.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, p.Close())

	// content survives a reopen and the sequence continues
	p, err = Open(path, 0)
	require.NoError(t, err)
	defer p.Close()

	got, err := p.ReadBlob(ctx, k1)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", got.MimeType())
	assert.Equal(t, "utf-8", got.Encoding())
	assert.Equal(t, blob.DigestBytes([]byte("foo")), got.Digest())

	data, err := blob.ReadAll(got)
	require.NoError(t, err)
	assert.Equal(t, "foo", string(data))

	k3, err := p.WriteBlob(ctx, blob.NewStringBlob("baz"))
	require.NoError(t, err)
	assert.Equal(t, "3", k3)

	assert.NoError(t, p.Health(ctx))
}

func TestReadMissing(t *testing.T) {
	p, err := Open(filepath.Join(t.TempDir(), "blobs.bolt"), 0)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.ReadBlob(context.Background(), "42")
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestOpenLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.bolt")
	p, err := Open(path, 0)
	require.NoError(t, err)
	defer p.Close()

	_, err = Open(path, 50*time.Millisecond)
	assert.Error(t, err)
}
