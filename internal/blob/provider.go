package blob

import (
	"context"
)

// Provider is a storage backend with its own raw key space.
// Providers know nothing about each other or about key prefixes.
type Provider interface {
	// WriteBlob durably stores the blob content and returns the raw key to read it back
	WriteBlob(ctx context.Context, b Blob) (string, error)

	// ReadBlob returns the blob stored under the raw key.
	// If nothing is stored there, the error must satisfy errors.Is(err, ErrBlobNotFound).
	ReadBlob(ctx context.Context, key string) (Blob, error)

	// SupportsUserUpdate reports whether users may replace content held by this provider
	SupportsUserUpdate() bool
}

// TransientProvider is implemented by providers whose content does not outlive the process
// (or a short expiry). Keys from transient providers are never reused across writes.
type TransientProvider interface {
	IsTransient() bool
}

// HealthChecker is implemented by providers that can verify their backend is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// IsTransient reports whether p declares itself transient
func IsTransient(p Provider) bool {
	tp, ok := p.(TransientProvider)
	return ok && tp.IsTransient()
}
