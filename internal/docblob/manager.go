package docblob

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/blobmanager"
	"github.com/openmined/blobdispatch/internal/dispatch"
	"github.com/prometheus/client_golang/prometheus"
)

// Document is what the blob layer needs to know about the document owning a blob property
type Document interface {
	Type() string
	Repository() string
}

// DocRef is a plain Document
type DocRef struct {
	DocType        string
	RepositoryName string
}

func (d DocRef) Type() string       { return d.DocType }
func (d DocRef) Repository() string { return d.RepositoryName }

// Manager is the entry point for document blob properties. It dispatches new blobs to a
// provider, mints keys that carry the provider id, and resolves keys on read.
//
// Routing happens once, at write time. Reads only ever resolve the provider embedded in
// the key, so dispatch configuration can change without breaking existing keys.
//
// Blobs written for one document are independent: if a later write fails, earlier
// blobs stay in their providers. Treating the save as failed is up to the caller.
type Manager struct {
	registry   *blobmanager.Registry
	dispatcher atomic.Pointer[dispatch.Dispatcher]
	metrics    *metrics
	strict     bool
}

// Option configures a Manager
type Option func(*Manager)

// WithStrictValidation makes New and Reload fail when dispatch can route to an
// unregistered provider, instead of failing at the first write that hits it.
func WithStrictValidation() Option {
	return func(m *Manager) {
		m.strict = true
	}
}

// New creates a Manager routing writes through dispatcher to the providers in registry
func New(registry *blobmanager.Registry, dispatcher *dispatch.Dispatcher, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, fmt.Errorf("blob registry required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("blob dispatcher required")
	}

	m := &Manager{
		registry: registry,
		metrics:  newMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.strict {
		if err := m.validate(dispatcher); err != nil {
			return nil, err
		}
	}
	m.dispatcher.Store(dispatcher)

	return m, nil
}

// WriteBlob stores b for the property at xpath of doc and returns the key to persist.
// A nil blob clears the property and returns an empty key.
func (m *Manager) WriteBlob(ctx context.Context, b blob.Blob, doc Document, xpath string) (string, error) {
	key, _, err := m.writeBlob(ctx, b, doc, xpath)
	return key, err
}

// writeBlob also returns the blob as the provider saw it, with the length and digest
// measured during the write when the source did not declare them.
func (m *Manager) writeBlob(ctx context.Context, b blob.Blob, doc Document, xpath string) (string, blob.Blob, error) {
	if b == nil {
		return "", nil, nil
	}

	d := m.dispatcher.Load()
	target := dispatch.Target{
		Repository: doc.Repository(),
		DocType:    doc.Type(),
		XPath:      xpath,
	}

	if mb, ok := b.(*blob.ManagedBlob); ok {
		if key, ok := m.reusableKey(d, mb, target); ok {
			m.metrics.keyReuses.Inc()
			slog.Debug("blob key reused", "provider", mb.ProviderID(), "key", key, "xpath", xpath)
			return key, b, nil
		}
	}

	providerID := d.Dispatch(target, b)
	provider, err := m.registry.GetProvider(providerID)
	if err != nil {
		slog.Warn("blob dispatched to unregistered provider", "provider", providerID, "docType", target.DocType, "xpath", xpath)
		return "", nil, err
	}

	written := b
	if blob.NeedsMeasure(b) {
		written = blob.NewMeasuredBlob(b)
	}

	started := time.Now()
	rawKey, err := provider.WriteBlob(ctx, written)
	m.metrics.observeWrite(providerID, written.Length(), started, err)
	if err != nil {
		return "", nil, &blob.ProviderError{Op: blob.OpWrite, ProviderID: providerID, Err: err}
	}

	key := m.mintKey(d, target.Repository, providerID, rawKey)
	slog.Debug("blob written", "provider", providerID, "key", key, "docType", target.DocType, "xpath", xpath)

	return key, written, nil
}

// StoreBlob is WriteBlob followed by the BlobInfo projection the document should persist
func (m *Manager) StoreBlob(ctx context.Context, b blob.Blob, doc Document, xpath string) (*blob.BlobInfo, error) {
	key, written, err := m.writeBlob(ctx, b, doc, xpath)
	if err != nil || key == "" {
		return nil, err
	}
	return blob.NewBlobInfo(key, written), nil
}

// ReadBlob returns a managed blob for info. Bare keys resolve against the default
// provider of repositoryHint, or the global default when the hint is empty or unknown.
// A nil info or one without a key reads as no blob.
func (m *Manager) ReadBlob(ctx context.Context, info *blob.BlobInfo, repositoryHint string) (*blob.ManagedBlob, error) {
	if info == nil || info.Key == "" {
		return nil, nil
	}

	res, err := m.resolve(info.Key, repositoryHint)
	if err != nil {
		return nil, err
	}

	provider, providerID := res.Provider, res.ProviderID
	load := func(ctx context.Context, rawKey string) (blob.Blob, error) {
		b, err := provider.ReadBlob(ctx, rawKey)
		m.metrics.observeRead(providerID, err)
		if err != nil {
			return nil, &blob.ProviderError{Op: blob.OpRead, ProviderID: providerID, Key: rawKey, Err: err}
		}
		return b, nil
	}

	return blob.NewManagedBlob(ctx, *info, providerID, res.RawKey, load), nil
}

// ReadDocumentBlob is ReadBlob using the document's repository as hint
func (m *Manager) ReadDocumentBlob(ctx context.Context, info *blob.BlobInfo, doc Document) (*blob.ManagedBlob, error) {
	return m.ReadBlob(ctx, info, doc.Repository())
}

// Resolve tells which provider holds key, without reading anything
func (m *Manager) Resolve(key string, repositoryHint string) (*blobmanager.Resolution, error) {
	return m.resolve(key, repositoryHint)
}

func (m *Manager) resolve(key string, repositoryHint string) (*blobmanager.Resolution, error) {
	defaultID := m.dispatcher.Load().DefaultProvider(repositoryHint)
	if defaultID == "" {
		return m.registry.Resolve(key)
	}
	return m.registry.ResolveWithDefault(key, defaultID)
}

// GetProvider gives direct access to a provider, for administrative hooks
func (m *Manager) GetProvider(id string) (blob.Provider, error) {
	return m.registry.GetProvider(id)
}

// Route returns the provider a new blob would be written to
func (m *Manager) Route(target dispatch.Target, b blob.Blob) string {
	return m.dispatcher.Load().Dispatch(target, b)
}

// Registry returns the provider registry
func (m *Manager) Registry() *blobmanager.Registry {
	return m.registry
}

// Dispatcher returns the dispatcher currently in use
func (m *Manager) Dispatcher() *dispatch.Dispatcher {
	return m.dispatcher.Load()
}

// MetricsRegistry exposes the write/read metrics
func (m *Manager) MetricsRegistry() *prometheus.Registry {
	return m.metrics.registry
}

// Validate checks that every provider the dispatcher can route to is registered
func (m *Manager) Validate() error {
	return m.validate(m.dispatcher.Load())
}

// Reload installs a new dispatcher. Keys written before keep resolving to the provider
// they name.
func (m *Manager) Reload(d *dispatch.Dispatcher) error {
	if d == nil {
		return fmt.Errorf("blob dispatcher required")
	}
	if m.strict {
		if err := m.validate(d); err != nil {
			return err
		}
	}

	m.dispatcher.Store(d)
	slog.Info("blob dispatch reloaded", "rules", len(d.Rules()), "providers", d.SortedProviderIDs())
	return nil
}

func (m *Manager) validate(d *dispatch.Dispatcher) error {
	var missing []string
	for id := range d.ProviderIDs().Iter() {
		if !m.registry.HasProvider(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	slices.Sort(missing)
	return &blob.MisconfiguredDispatchError{ProviderIDs: missing}
}

// reusableKey reports whether a blob already held by a provider can keep its key:
// its provider is durable and is the one dispatch picks now, or is not a dispatch target at all.
func (m *Manager) reusableKey(d *dispatch.Dispatcher, mb *blob.ManagedBlob, target dispatch.Target) (string, bool) {
	current := mb.ProviderID()
	p, err := m.registry.GetProvider(current)
	if err != nil || blob.IsTransient(p) {
		return "", false
	}

	if d.ProviderIDs().Contains(current) && d.Dispatch(target, mb) != current {
		return "", false
	}

	return m.mintKey(d, target.Repository, current, mb.RawKey()), true
}

// mintKey prefixes rawKey with the provider id, except for the default provider of an
// unprefixed repository. A raw key containing a colon is always prefixed, so it cannot be
// claimed by a provider registered later under that prefix.
func (m *Manager) mintKey(d *dispatch.Dispatcher, repository, providerID, rawKey string) string {
	if repo, ok := d.Repository(repository); ok && repo.Unprefixed && repo.Provider == providerID {
		if _, _, hasPrefix := blob.SplitKey(rawKey); !hasPrefix {
			return rawKey
		}
	}
	return blob.JoinKey(providerID, rawKey)
}
