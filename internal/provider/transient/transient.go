// Package transient holds short lived blobs in memory, such as uploads waiting to be
// attached to a document. Entries expire and are evicted when the store is full.
package transient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/openmined/blobdispatch/internal/blob"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 30 * time.Minute
)

type entry struct {
	data []byte
	opts []blob.Option
}

// Provider keeps blobs in an expiring LRU cache under random keys
type Provider struct {
	cache *expirable.LRU[string, *entry]
}

// New creates a store of at most size blobs, each kept for ttl
func New(size int, ttl time.Duration) *Provider {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{
		cache: expirable.NewLRU[string, *entry](size, nil, ttl),
	}
}

// WriteBlob implements blob.Provider
func (p *Provider) WriteBlob(ctx context.Context, b blob.Blob) (string, error) {
	data, digest, err := blob.ReadAllDigest(b)
	if err != nil {
		return "", err
	}

	key := uuid.NewString()
	p.cache.Add(key, &entry{
		data: data,
		opts: []blob.Option{
			blob.WithMimeType(b.MimeType()),
			blob.WithEncoding(b.Encoding()),
			blob.WithFilename(b.Filename()),
			blob.WithDigest(digest),
		},
	})

	return key, nil
}

// ReadBlob implements blob.Provider
func (p *Provider) ReadBlob(ctx context.Context, key string) (blob.Blob, error) {
	e, ok := p.cache.Get(key)
	if !ok {
		return nil, fmt.Errorf("transient key %q: %w", key, blob.ErrBlobNotFound)
	}
	return blob.NewBytesBlob(e.data, e.opts...), nil
}

func (p *Provider) SupportsUserUpdate() bool {
	return true
}

// IsTransient implements blob.TransientProvider
func (p *Provider) IsTransient() bool {
	return true
}

// Remove drops a blob before it expires
func (p *Provider) Remove(key string) bool {
	return p.cache.Remove(key)
}

// Len returns the number of blobs not yet evicted
func (p *Provider) Len() int {
	return p.cache.Len()
}

var _ blob.Provider = (*Provider)(nil)
var _ blob.TransientProvider = (*Provider)(nil)
