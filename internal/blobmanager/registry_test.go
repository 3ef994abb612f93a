package blobmanager

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/provider/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := memory.New()

	require.NoError(t, r.RegisterProvider("dummy", p))

	got, err := r.GetProvider("dummy")
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.True(t, r.HasProvider("dummy"))
	assert.Equal(t, 1, r.Len())

	_, err = r.GetProvider("ghost")
	assert.ErrorIs(t, err, blob.ErrUnknownProvider)

	var upe *blob.UnknownProviderError
	require.ErrorAs(t, err, &upe)
	assert.Equal(t, "ghost", upe.ProviderID)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	first := memory.New()
	require.NoError(t, r.RegisterProvider("dummy", first))

	err := r.RegisterProvider("dummy", memory.New())
	assert.ErrorIs(t, err, blob.ErrDuplicateProvider)

	got, _ := r.GetProvider("dummy")
	assert.Same(t, first, got, "rejected registration must not replace the provider")
}

func TestRegisterReplaceAllowed(t *testing.T) {
	r := NewRegistry(WithReplaceAllowed())
	require.NoError(t, r.RegisterProvider("dummy", memory.New()))

	second := memory.New()
	require.NoError(t, r.RegisterProvider("dummy", second))

	got, _ := r.GetProvider("dummy")
	assert.Same(t, second, got)
}

func TestRegisterInvalid(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.RegisterProvider("", memory.New()))
	assert.Error(t, r.RegisterProvider("x", nil))
}

func TestResolve(t *testing.T) {
	r := NewRegistry()
	dummy := memory.New()
	dummy2 := memory.New()
	require.NoError(t, r.RegisterProvider("dummy", dummy))
	require.NoError(t, r.RegisterProvider("dummy2", dummy2))
	r.SetDefaultProvider("dummy")

	tests := []struct {
		name       string
		key        string
		providerID string
		rawKey     string
		prefixed   bool
	}{
		{name: "prefixed", key: "dummy2:1", providerID: "dummy2", rawKey: "1", prefixed: true},
		{name: "bare-key-default", key: "1", providerID: "dummy", rawKey: "1", prefixed: false},
		// legacy keys may contain a colon without naming a provider
		{name: "unknown-prefix-falls-back", key: "sha256:abcd", providerID: "dummy", rawKey: "sha256:abcd", prefixed: false},
		{name: "raw-key-with-colons", key: "dummy2:a:b", providerID: "dummy2", rawKey: "a:b", prefixed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.providerID, res.ProviderID)
			assert.Equal(t, tt.rawKey, res.RawKey)
			assert.Equal(t, tt.prefixed, res.Prefixed)
		})
	}
}

func TestResolveWithoutDefault(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterProvider("dummy", memory.New()))

	_, err := r.Resolve("ghost:1")
	assert.ErrorIs(t, err, blob.ErrUnresolvableKey)

	_, err = r.Resolve("1")
	assert.ErrorIs(t, err, blob.ErrUnresolvableKey)

	_, err = r.Resolve("")
	assert.ErrorIs(t, err, blob.ErrUnresolvableKey)

	// default names a provider that is not registered
	_, err = r.ResolveWithDefault("1", "ghost")
	assert.ErrorIs(t, err, blob.ErrUnresolvableKey)
	assert.ErrorIs(t, err, blob.ErrUnknownProvider)
	assert.Contains(t, err.Error(), "ghost")

	var unknown *blob.UnknownProviderError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.ProviderID)
}

func TestResolveWithDefault(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterProvider("repoA", memory.New()))
	require.NoError(t, r.RegisterProvider("repoB", memory.New()))
	r.SetDefaultProvider("repoA")

	res, err := r.ResolveWithDefault("1", "repoB")
	require.NoError(t, err)
	assert.Equal(t, "repoB", res.ProviderID)

	// a known prefix always wins over the default
	res, err = r.ResolveWithDefault("repoA:1", "repoB")
	require.NoError(t, err)
	assert.Equal(t, "repoA", res.ProviderID)
}

func TestInstallSwapsSnapshot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterProvider("old", memory.New()))

	next := map[string]blob.Provider{"a": memory.New(), "b": memory.New()}
	require.NoError(t, r.Install(next, "a"))

	assert.Equal(t, []string{"a", "b"}, r.ProviderIDs())
	assert.Equal(t, "a", r.DefaultProvider())
	assert.False(t, r.HasProvider("old"))

	// caller's map is copied
	next["c"] = memory.New()
	assert.False(t, r.HasProvider("c"))

	assert.Error(t, r.Install(map[string]blob.Provider{"x": nil}, ""))
}

func TestConcurrentReadsDuringRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterProvider("dummy", memory.New()))
	r.SetDefaultProvider("dummy")

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := r.Resolve("dummy:1")
			assert.NoError(t, err)
			assert.Equal(t, "dummy", res.ProviderID)
		}()
		go func() {
			defer wg.Done()
			_ = r.RegisterProvider("p"+string(rune('a'+i%26))+string(rune('a'+i/26)), memory.New())
		}()
	}
	wg.Wait()

	assert.Equal(t, 51, r.Len())
}

func TestCheckHealth(t *testing.T) {
	r := NewRegistry()
	healthy := memory.New()
	broken := memory.New()
	boom := errors.New("backend down")
	broken.Fail(boom)

	require.NoError(t, r.RegisterProvider("healthy", healthy))
	require.NoError(t, r.RegisterProvider("broken", broken))
	require.NoError(t, r.RegisterProvider("plain", &plainProvider{}))

	res := r.CheckHealth(context.Background())
	assert.Len(t, res, 3)
	assert.NoError(t, res["healthy"])
	assert.NoError(t, res["plain"])
	assert.ErrorIs(t, res["broken"], boom)
}

func TestClose(t *testing.T) {
	r := NewRegistry()
	c := &closingProvider{}
	require.NoError(t, r.RegisterProvider("closing", c))
	require.NoError(t, r.RegisterProvider("plain", &plainProvider{}))

	assert.NoError(t, r.Close())
	assert.True(t, c.closed)

	c.err = errors.New("close failed")
	assert.ErrorContains(t, r.Close(), "close failed")
}

// ===================================================================================================

type plainProvider struct{}

func (p *plainProvider) WriteBlob(ctx context.Context, b blob.Blob) (string, error) {
	return "", errors.New("not implemented")
}

func (p *plainProvider) ReadBlob(ctx context.Context, key string) (blob.Blob, error) {
	return nil, blob.ErrBlobNotFound
}

func (p *plainProvider) SupportsUserUpdate() bool { return false }

type closingProvider struct {
	plainProvider
	closed bool
	err    error
}

func (c *closingProvider) Close() error {
	c.closed = true
	return c.err
}
