package blob

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Loader fetches the content behind a raw key from the owning provider
type Loader func(ctx context.Context, key string) (Blob, error)

// ManagedBlob is a blob already held by a provider. Metadata comes from the stored
// BlobInfo, so reading it never touches storage; content is loaded on the first Open.
// Fields the BlobInfo leaves empty are filled from the provider once it has been read.
//
// The context given to NewManagedBlob is used for the lazy load. It should live as long
// as the request that reads the blob.
type ManagedBlob struct {
	info       BlobInfo
	providerID string
	rawKey     string
	load       Loader
	ctx        context.Context

	mu     sync.Mutex
	loaded Blob
}

// NewManagedBlob creates a managed blob for info. load is called with rawKey on the first Open.
func NewManagedBlob(ctx context.Context, info BlobInfo, providerID, rawKey string, load Loader) *ManagedBlob {
	if ctx == nil {
		ctx = context.Background()
	}
	if info.Length == 0 && info.keyOnly() {
		info.Length = -1
	}
	return &ManagedBlob{
		info:       info,
		providerID: providerID,
		rawKey:     rawKey,
		load:       load,
		ctx:        ctx,
	}
}

// MimeType returns the stored mime type, or the provider's once the content is loaded
func (m *ManagedBlob) MimeType() string {
	return m.stringField(m.info.MimeType, Blob.MimeType)
}

func (m *ManagedBlob) Encoding() string {
	return m.stringField(m.info.Encoding, Blob.Encoding)
}

func (m *ManagedBlob) Filename() string {
	return m.stringField(m.info.Filename, Blob.Filename)
}

func (m *ManagedBlob) Digest() string {
	return m.stringField(m.info.Digest, Blob.Digest)
}

// Length returns -1 when neither the BlobInfo nor a completed load knows the size
func (m *ManagedBlob) Length() int64 {
	if m.info.Length >= 0 {
		return m.info.Length
	}
	if loaded := m.loadedBlob(); loaded != nil {
		return loaded.Length()
	}
	return -1
}

func (m *ManagedBlob) stringField(stored string, fromProvider func(Blob) string) string {
	if stored != "" {
		return stored
	}
	if loaded := m.loadedBlob(); loaded != nil {
		return fromProvider(loaded)
	}
	return ""
}

func (m *ManagedBlob) loadedBlob() Blob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// Key returns the full key as stored in the document, prefix included when there is one
func (m *ManagedBlob) Key() string { return m.info.Key }

// ProviderID returns the id of the provider holding the content
func (m *ManagedBlob) ProviderID() string { return m.providerID }

// RawKey returns the key in the provider's own key space
func (m *ManagedBlob) RawKey() string { return m.rawKey }

// Info returns the stored metadata merged with what the provider returned, if it was read
func (m *ManagedBlob) Info() BlobInfo {
	return BlobInfo{
		Key:      m.info.Key,
		MimeType: m.MimeType(),
		Encoding: m.Encoding(),
		Filename: m.Filename(),
		Length:   m.Length(),
		Digest:   m.Digest(),
	}
}

// Loaded reports whether the provider has been read already
func (m *ManagedBlob) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded != nil
}

// Open loads the content from the provider if needed and returns a reader over it
func (m *ManagedBlob) Open() (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded == nil {
		if err := m.fetch(); err != nil {
			return nil, err
		}
	}

	rc, err := m.loaded.Open()
	if errors.Is(err, ErrBlobConsumed) {
		// provider handed out a single-use stream; go back to the provider
		if err := m.fetch(); err != nil {
			return nil, err
		}
		return m.loaded.Open()
	}
	return rc, err
}

func (m *ManagedBlob) fetch() error {
	b, err := m.load(m.ctx, m.rawKey)
	if err != nil {
		return err
	}
	m.loaded = b
	return nil
}
