package blob

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownProvider       = errors.New("unknown blob provider")
	ErrUnresolvableKey       = errors.New("unresolvable blob key")
	ErrDuplicateProvider     = errors.New("blob provider already registered")
	ErrMisconfiguredDispatch = errors.New("misconfigured blob dispatch")
	ErrProviderWrite         = errors.New("blob provider write failed")
	ErrProviderRead          = errors.New("blob provider read failed")
	ErrBlobNotFound          = errors.New("blob not found")
	ErrBlobConsumed          = errors.New("blob content already consumed")
)

// UnknownProviderError reports a provider id, from a key prefix or a dispatch rule,
// that has no registered provider.
type UnknownProviderError struct {
	ProviderID string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown blob provider %q", e.ProviderID)
}

func (e *UnknownProviderError) Is(target error) bool {
	return target == ErrUnknownProvider
}

// UnresolvableKeyError reports a key that cannot be mapped to any provider, the default included.
// Err holds the underlying cause when there is one, e.g. an unregistered default provider.
type UnresolvableKeyError struct {
	Key    string
	Reason string
	Err    error
}

func (e *UnresolvableKeyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unresolvable blob key %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("unresolvable blob key %q: %s", e.Key, e.Reason)
}

func (e *UnresolvableKeyError) Is(target error) bool {
	return target == ErrUnresolvableKey
}

func (e *UnresolvableKeyError) Unwrap() error {
	return e.Err
}

// ===================================================================================================

// ProviderOp is the provider operation that failed
type ProviderOp string

const (
	OpWrite ProviderOp = "write"
	OpRead  ProviderOp = "read"
)

// ProviderError wraps a failure of the underlying backend. Key is the raw key, empty for writes.
type ProviderError struct {
	Op         ProviderOp
	ProviderID string
	Key        string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("blob provider %q %s: %v", e.ProviderID, e.Op, e.Err)
	}
	return fmt.Sprintf("blob provider %q %s key=%s: %v", e.ProviderID, e.Op, e.Key, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrProviderWrite:
		return e.Op == OpWrite
	case ErrProviderRead:
		return e.Op == OpRead
	}
	return false
}

// ===================================================================================================

// MisconfiguredDispatchError lists provider ids that dispatch can route to but that were never registered.
type MisconfiguredDispatchError struct {
	ProviderIDs []string
}

func (e *MisconfiguredDispatchError) Error() string {
	return fmt.Sprintf("dispatch targets unregistered blob providers: %s", strings.Join(e.ProviderIDs, ", "))
}

func (e *MisconfiguredDispatchError) Is(target error) bool {
	return target == ErrMisconfiguredDispatch
}
