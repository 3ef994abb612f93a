// Package memory is an in-memory blob provider with predictable keys.
//
// Raw keys are a per-instance counter ("1", "2", ...), which makes it the provider of
// choice for tests that assert exact key sequences.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/samber/lo"
)

type entry struct {
	data     []byte
	mimeType string
	encoding string
	filename string
	digest   string
}

// Provider keeps blobs in memory under sequential keys
type Provider struct {
	mu         sync.Mutex
	counter    int64
	blobs      map[string]*entry
	transient  bool
	userUpdate bool
	failure    error
}

// Option configures a Provider
type Option func(*Provider)

// WithTransient marks the provider as transient
func WithTransient() Option {
	return func(p *Provider) {
		p.transient = true
	}
}

// WithUserUpdate makes SupportsUserUpdate report true
func WithUserUpdate() Option {
	return func(p *Provider) {
		p.userUpdate = true
	}
}

// New creates an empty in-memory provider
func New(opts ...Option) *Provider {
	p := &Provider{blobs: map[string]*entry{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WriteBlob implements blob.Provider
func (p *Provider) WriteBlob(ctx context.Context, b blob.Blob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, digest, err := blob.ReadAllDigest(b)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failure != nil {
		return "", p.failure
	}

	p.counter++
	key := strconv.FormatInt(p.counter, 10)
	p.blobs[key] = &entry{
		data:     data,
		mimeType: b.MimeType(),
		encoding: b.Encoding(),
		filename: b.Filename(),
		digest:   digest,
	}

	return key, nil
}

// ReadBlob implements blob.Provider
func (p *Provider) ReadBlob(ctx context.Context, key string) (blob.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failure != nil {
		return nil, p.failure
	}

	e, ok := p.blobs[key]
	if !ok {
		return nil, fmt.Errorf("memory key %q: %w", key, blob.ErrBlobNotFound)
	}

	return blob.NewBytesBlob(e.data,
		blob.WithMimeType(e.mimeType),
		blob.WithEncoding(e.encoding),
		blob.WithFilename(e.filename),
		blob.WithDigest(e.digest),
	), nil
}

func (p *Provider) SupportsUserUpdate() bool {
	return p.userUpdate
}

// IsTransient implements blob.TransientProvider
func (p *Provider) IsTransient() bool {
	return p.transient
}

// Health implements blob.HealthChecker
func (p *Provider) Health(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// Fail makes every following operation return err. Pass nil to recover.
func (p *Provider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failure = err
}

// Reset drops all content and restarts the key counter at 1
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter = 0
	clear(p.blobs)
}

// Counter returns the last key handed out, 0 if none
func (p *Provider) Counter() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}

// Keys returns the stored keys in write order
func (p *Provider) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := lo.Keys(p.blobs)
	slices.SortFunc(keys, func(a, b string) int {
		ai, _ := strconv.ParseInt(a, 10, 64)
		bi, _ := strconv.ParseInt(b, 10, 64)
		return int(ai - bi)
	})
	return keys
}

var _ blob.Provider = (*Provider)(nil)
var _ blob.TransientProvider = (*Provider)(nil)
var _ blob.HealthChecker = (*Provider)(nil)
