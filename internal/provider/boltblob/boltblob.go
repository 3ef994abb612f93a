// Package boltblob stores blobs in a single bbolt file, content and metadata in
// separate buckets. Raw keys come from the content bucket sequence.
package boltblob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/provider/meta"
	"github.com/openmined/blobdispatch/internal/utils"
	bolt "go.etcd.io/bbolt"
)

var (
	contentBucket = []byte("content")
	metaBucket    = []byte("meta")
)

// Provider stores blobs in a bbolt file, content and metadata in separate buckets
type Provider struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the bbolt file at path. Only one process may hold it.
func Open(path string, timeout time.Duration) (*Provider, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("boltblob open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{contentBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltblob init: %w", err)
	}

	slog.Debug("boltblob provider open", "path", path)
	return &Provider{db: db, path: path}, nil
}

// WriteBlob implements blob.Provider
func (p *Provider) WriteBlob(ctx context.Context, b blob.Blob) (string, error) {
	data, digest, err := blob.ReadAllDigest(b)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	metaData, err := meta.MarshalBinary(meta.FromBlob(b, int64(len(data)), digest))
	if err != nil {
		return "", err
	}

	var key string
	err = p.db.Update(func(tx *bolt.Tx) error {
		content := tx.Bucket(contentBucket)
		seq, err := content.NextSequence()
		if err != nil {
			return err
		}
		key = strconv.FormatUint(seq, 10)

		if err := content.Put([]byte(key), data); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put([]byte(key), metaData)
	})
	if err != nil {
		return "", err
	}

	return key, nil
}

// ReadBlob implements blob.Provider
func (p *Provider) ReadBlob(ctx context.Context, key string) (blob.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data, metaData []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(contentBucket).Get([]byte(key))
		if v == nil {
			return blob.ErrBlobNotFound
		}
		// values are only valid inside the transaction
		data = append([]byte(nil), v...)
		if m := tx.Bucket(metaBucket).Get([]byte(key)); m != nil {
			metaData = append([]byte(nil), m...)
		}
		return nil
	})
	if errors.Is(err, blob.ErrBlobNotFound) {
		return nil, fmt.Errorf("boltblob key %q: %w", key, err)
	} else if err != nil {
		return nil, err
	}

	var opts []blob.Option
	if metaData != nil {
		m, err := meta.UnmarshalBinary(metaData)
		if err != nil {
			return nil, fmt.Errorf("boltblob key %q metadata: %w", key, err)
		}
		opts = m.Options()
	}

	return blob.NewBytesBlob(data, opts...), nil
}

func (p *Provider) SupportsUserUpdate() bool {
	return false
}

// Stats returns the number of stored blobs
func (p *Provider) Stats() (int, error) {
	var n int
	err := p.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(contentBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (p *Provider) Health(ctx context.Context) error {
	return p.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(contentBucket) == nil {
			return fmt.Errorf("boltblob %s: content bucket missing", p.path)
		}
		return nil
	})
}

// Close closes the bolt file
func (p *Provider) Close() error {
	return p.db.Close()
}

var _ blob.Provider = (*Provider)(nil)
var _ blob.HealthChecker = (*Provider)(nil)
