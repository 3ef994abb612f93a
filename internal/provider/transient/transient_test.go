package transient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadBlob(t *testing.T) {
	p := New(0, 0)
	ctx := context.Background()

	key, err := p.WriteBlob(ctx, blob.NewStringBlob("upload", blob.WithFilename("a.txt")))
	require.NoError(t, err)
	_, err = uuid.Parse(key)
	assert.NoError(t, err)

	got, err := p.ReadBlob(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", got.Filename())

	data, err := blob.ReadAll(got)
	require.NoError(t, err)
	assert.Equal(t, "upload", string(data))

	assert.True(t, p.IsTransient())
	assert.True(t, blob.IsTransient(p))

	assert.True(t, p.Remove(key))
	_, err = p.ReadBlob(ctx, key)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestEviction(t *testing.T) {
	p := New(2, time.Hour)
	ctx := context.Background()

	first, err := p.WriteBlob(ctx, blob.NewStringBlob("1"))
	require.NoError(t, err)
	_, err = p.WriteBlob(ctx, blob.NewStringBlob("2"))
	require.NoError(t, err)
	_, err = p.WriteBlob(ctx, blob.NewStringBlob("3"))
	require.NoError(t, err)

	assert.Equal(t, 2, p.Len())
	_, err = p.ReadBlob(ctx, first)
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestExpiry(t *testing.T) {
	p := New(10, 20*time.Millisecond)
	ctx := context.Background()

	key, err := p.WriteBlob(ctx, blob.NewStringBlob("short"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := p.ReadBlob(ctx, key)
		return err != nil
	}, time.Second, 10*time.Millisecond)
}
