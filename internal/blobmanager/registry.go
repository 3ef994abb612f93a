package blobmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Registry maps provider ids to live providers and resolves keys back to them.
//
// The provider map and the default provider live in an immutable snapshot. Readers load
// the current snapshot without locking; every change installs a new snapshot.
type Registry struct {
	current      atomic.Pointer[snapshot]
	mu           sync.Mutex // serializes writers
	allowReplace bool
}

type snapshot struct {
	providers map[string]blob.Provider
	defaultID string
}

// Resolution is the outcome of resolving a key
type Resolution struct {
	Provider   blob.Provider
	ProviderID string
	RawKey     string
	// Prefixed is false when the key went through the default provider fallback
	Prefixed bool
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithReplaceAllowed lets RegisterProvider silently replace an existing provider.
// Off by default: replacing a provider risks resolving old keys against an incompatible backend.
func WithReplaceAllowed() RegistryOption {
	return func(r *Registry) {
		r.allowReplace = true
	}
}

// NewRegistry creates an empty registry without a default provider
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&snapshot{providers: map[string]blob.Provider{}})
	return r
}

// RegisterProvider adds p under id. Fails with ErrDuplicateProvider if id is taken,
// unless the registry was created WithReplaceAllowed.
func (r *Registry) RegisterProvider(id string, p blob.Provider) error {
	if id == "" {
		return fmt.Errorf("register blob provider: empty id")
	}
	if p == nil {
		return fmt.Errorf("register blob provider %q: nil provider", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	if _, exists := cur.providers[id]; exists && !r.allowReplace {
		return fmt.Errorf("register blob provider %q: %w", id, blob.ErrDuplicateProvider)
	}

	next := &snapshot{
		providers: maps.Clone(cur.providers),
		defaultID: cur.defaultID,
	}
	next.providers[id] = p
	r.current.Store(next)

	slog.Debug("blob provider registered", "provider", id)
	return nil
}

// SetDefaultProvider sets the provider used for keys without a known prefix.
// The id does not have to be registered yet.
func (r *Registry) SetDefaultProvider(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	r.current.Store(&snapshot{
		providers: cur.providers,
		defaultID: id,
	})
}

// DefaultProvider returns the id of the default provider, empty if none
func (r *Registry) DefaultProvider() string {
	return r.current.Load().defaultID
}

// Install replaces all providers and the default in one step
func (r *Registry) Install(providers map[string]blob.Provider, defaultID string) error {
	for id, p := range providers {
		if id == "" || p == nil {
			return fmt.Errorf("install blob providers: invalid provider %q", id)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.current.Store(&snapshot{
		providers: maps.Clone(providers),
		defaultID: defaultID,
	})

	slog.Info("blob providers installed", "count", len(providers), "default", defaultID)
	return nil
}

// GetProvider returns the provider registered under id
func (r *Registry) GetProvider(id string) (blob.Provider, error) {
	p, ok := r.current.Load().providers[id]
	if !ok {
		return nil, &blob.UnknownProviderError{ProviderID: id}
	}
	return p, nil
}

// HasProvider reports whether id is registered
func (r *Registry) HasProvider(id string) bool {
	_, ok := r.current.Load().providers[id]
	return ok
}

// ProviderIDs returns the registered ids, sorted
func (r *Registry) ProviderIDs() []string {
	ids := lo.Keys(r.current.Load().providers)
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	return len(r.current.Load().providers)
}

// Resolve maps key to its provider, using the registry's default provider for bare keys
func (r *Registry) Resolve(key string) (*Resolution, error) {
	snap := r.current.Load()
	return snap.resolve(key, snap.defaultID)
}

// ResolveWithDefault is Resolve with an explicit default provider, e.g. a repository's
func (r *Registry) ResolveWithDefault(key string, defaultID string) (*Resolution, error) {
	return r.current.Load().resolve(key, defaultID)
}

func (s *snapshot) resolve(key string, defaultID string) (*Resolution, error) {
	if key == "" {
		return nil, &blob.UnresolvableKeyError{Key: key, Reason: "empty key"}
	}

	if prefix, raw, ok := blob.SplitKey(key); ok {
		if p, found := s.providers[prefix]; found {
			return &Resolution{Provider: p, ProviderID: prefix, RawKey: raw, Prefixed: true}, nil
		}
		// not a known prefix: a legacy raw key that happens to contain a colon
	}

	if defaultID == "" {
		return nil, &blob.UnresolvableKeyError{Key: key, Reason: "no known prefix and no default provider"}
	}

	p, found := s.providers[defaultID]
	if !found {
		return nil, &blob.UnresolvableKeyError{
			Key:    key,
			Reason: "default provider not registered",
			Err:    &blob.UnknownProviderError{ProviderID: defaultID},
		}
	}

	return &Resolution{Provider: p, ProviderID: defaultID, RawKey: key, Prefixed: false}, nil
}

// CheckHealth runs the health check of every provider that has one, concurrently.
// Providers without a health check are reported healthy.
func (r *Registry) CheckHealth(ctx context.Context) map[string]error {
	providers := r.current.Load().providers

	var mu sync.Mutex
	results := make(map[string]error, len(providers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for id, p := range providers {
		hc, ok := p.(blob.HealthChecker)
		if !ok {
			mu.Lock()
			results[id] = nil
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			err := hc.Health(ctx)
			if err != nil {
				slog.Warn("blob provider unhealthy", "provider", id, "error", err)
			}
			mu.Lock()
			results[id] = err
			mu.Unlock()
			// never cancel siblings, every provider gets checked
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Close closes every provider that holds resources
func (r *Registry) Close() error {
	var errs []error
	for id, p := range r.current.Load().providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close blob provider %q: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}
