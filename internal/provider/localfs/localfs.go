// Package localfs stores blobs as content-addressed files under a root directory.
//
// The raw key is the hex sha256 of the content. Files are sharded by the leading
// digest characters ("ab/cd/abcd...") and written through a temp file and a rename,
// so a reader never sees a partial blob. Metadata lives in a JSON sidecar.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"
	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/provider/meta"
	"github.com/openmined/blobdispatch/internal/utils"
)

const (
	lockFileName = ".lock"
	tmpDirName   = "tmp"
	metaSuffix   = ".meta.json"

	DefaultShardDepth = 2
)

var (
	ErrLocked = errors.New("blob directory locked by another process")

	digestKeyRe = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// Provider stores blobs as files named by their sha256 digest
type Provider struct {
	root       string
	shardDepth int
	userUpdate bool
	lock       *flock.Flock
}

// Option configures a Provider
type Option func(*Provider)

// WithShardDepth sets how many two-character directory levels a key is spread over
func WithShardDepth(depth int) Option {
	return func(p *Provider) {
		p.shardDepth = depth
	}
}

// WithUserUpdate marks the store as one users may edit in place
func WithUserUpdate() Option {
	return func(p *Provider) {
		p.userUpdate = true
	}
}

// New opens root for exclusive use by this process. Close releases it.
func New(root string, opts ...Option) (*Provider, error) {
	absRoot, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("localfs root: %w", err)
	}

	p := &Provider{
		root:       absRoot,
		shardDepth: DefaultShardDepth,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.shardDepth < 0 || p.shardDepth > 8 {
		return nil, fmt.Errorf("localfs shard depth %d out of range", p.shardDepth)
	}

	if err := utils.EnsureDir(filepath.Join(absRoot, tmpDirName)); err != nil {
		return nil, fmt.Errorf("localfs root: %w", err)
	}

	p.lock = flock.New(filepath.Join(absRoot, lockFileName))
	locked, err := p.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("localfs lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, absRoot)
	}

	slog.Debug("localfs provider open", "root", absRoot, "shardDepth", p.shardDepth)
	return p, nil
}

// Root returns the directory holding the blobs
func (p *Provider) Root() string {
	return p.root
}

// WriteBlob implements blob.Provider
func (p *Provider) WriteBlob(ctx context.Context, b blob.Blob) (string, error) {
	rc, err := b.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Join(p.root, tmpDirName), "upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	dr := blob.NewDigestReader(rc)
	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: dr}); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	key := dr.Digest()
	path := p.pathFor(key)

	if utils.FileExists(path) {
		slog.Debug("localfs content already stored", "key", key)
	} else {
		if err := utils.EnsureParent(path); err != nil {
			return "", err
		}
		if err := os.Rename(tmpName, path); err != nil {
			return "", err
		}
	}

	data, err := meta.Marshal(meta.FromBlob(b, dr.BytesRead(), key))
	if err != nil {
		return "", err
	}
	if err := utils.WriteFileAtomic(path+metaSuffix, data, 0o644); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}

	return key, nil
}

// ReadBlob implements blob.Provider
func (p *Provider) ReadBlob(ctx context.Context, key string) (blob.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !digestKeyRe.MatchString(key) {
		return nil, fmt.Errorf("localfs key %q: %w", key, blob.ErrBlobNotFound)
	}

	path := p.pathFor(key)
	opts := []blob.Option{blob.WithDigest(key)}

	// content without sidecar is still readable, it just has no descriptive metadata
	if data, err := os.ReadFile(path + metaSuffix); err == nil {
		if m, err := meta.Unmarshal(data); err == nil {
			opts = m.Options()
		} else {
			slog.Warn("localfs bad metadata", "key", key, "error", err)
		}
	}

	fb, err := blob.NewFileBlob(path, opts...)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("localfs key %q: %w", key, blob.ErrBlobNotFound)
	} else if err != nil {
		return nil, err
	}
	return fb, nil
}

func (p *Provider) SupportsUserUpdate() bool {
	return p.userUpdate
}

// Health implements blob.HealthChecker
func (p *Provider) Health(ctx context.Context) error {
	f, err := os.CreateTemp(filepath.Join(p.root, tmpDirName), "health-*")
	if err != nil {
		return fmt.Errorf("localfs not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// Close releases the directory lock
func (p *Provider) Close() error {
	return p.lock.Unlock()
}

func (p *Provider) pathFor(key string) string {
	parts := make([]string, 0, p.shardDepth+2)
	parts = append(parts, p.root)
	for i := 0; i < p.shardDepth && (i+1)*2 <= len(key); i++ {
		parts = append(parts, key[i*2:(i+1)*2])
	}
	parts = append(parts, key)
	return filepath.Join(parts...)
}

// ctxReader stops a copy once the context is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ blob.Provider = (*Provider)(nil)
var _ blob.HealthChecker = (*Provider)(nil)
var _ io.Closer = (*Provider)(nil)
