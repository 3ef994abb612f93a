// Package provider builds blob providers from configuration.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/blobmanager"
	"github.com/openmined/blobdispatch/internal/provider/boltblob"
	"github.com/openmined/blobdispatch/internal/provider/localfs"
	"github.com/openmined/blobdispatch/internal/provider/memory"
	"github.com/openmined/blobdispatch/internal/provider/s3blob"
	"github.com/openmined/blobdispatch/internal/provider/sqlblob"
	"github.com/openmined/blobdispatch/internal/provider/transient"
)

// Type names a provider implementation
type Type string

const (
	TypeMemory    Type = "memory"
	TypeLocalFS   Type = "localfs"
	TypeSQLite    Type = "sqlite"
	TypeBolt      Type = "bolt"
	TypeS3        Type = "s3"
	TypeTransient Type = "transient"
)

var ErrUnknownType = errors.New("unknown provider type")

// Config registers one provider. Which fields apply depends on Type.
type Config struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Type Type   `mapstructure:"type" yaml:"type"`

	// localfs root, sqlite file, bolt file
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	ShardDepth int    `mapstructure:"shard_depth" yaml:"shard_depth,omitempty"`
	Table      string `mapstructure:"table" yaml:"table,omitempty"`
	MaxSize    int64  `mapstructure:"max_size" yaml:"max_size,omitempty"`

	// transient store bounds
	Size int           `mapstructure:"size" yaml:"size,omitempty"`
	TTL  time.Duration `mapstructure:"ttl" yaml:"ttl,omitempty"`

	// memory provider only
	Transient bool `mapstructure:"transient" yaml:"transient,omitempty"`

	UserUpdate bool `mapstructure:"user_update" yaml:"user_update,omitempty"`

	S3 *s3blob.Config `mapstructure:"s3" yaml:"s3,omitempty"`
}

// Validate checks that the fields required by the provider type are set
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("provider id required")
	}

	switch c.Type {
	case TypeMemory, TypeTransient:
	case TypeLocalFS, TypeSQLite, TypeBolt:
		if c.Path == "" {
			return fmt.Errorf("provider %q: path required for %s", c.ID, c.Type)
		}
	case TypeS3:
		if c.S3 == nil {
			return fmt.Errorf("provider %q: s3 settings required", c.ID)
		}
		if err := c.S3.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", c.ID, err)
		}
	default:
		return fmt.Errorf("provider %q: %w %q", c.ID, ErrUnknownType, c.Type)
	}

	return nil
}

// New creates the provider described by cfg
func New(ctx context.Context, cfg *Config) (blob.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeMemory:
		var opts []memory.Option
		if cfg.Transient {
			opts = append(opts, memory.WithTransient())
		}
		if cfg.UserUpdate {
			opts = append(opts, memory.WithUserUpdate())
		}
		return memory.New(opts...), nil

	case TypeLocalFS:
		opts := []localfs.Option{}
		if cfg.ShardDepth > 0 {
			opts = append(opts, localfs.WithShardDepth(cfg.ShardDepth))
		}
		if cfg.UserUpdate {
			opts = append(opts, localfs.WithUserUpdate())
		}
		return localfs.New(cfg.Path, opts...)

	case TypeSQLite:
		opts := []sqlblob.Option{}
		if cfg.Table != "" {
			opts = append(opts, sqlblob.WithTable(cfg.Table))
		}
		if cfg.MaxSize > 0 {
			opts = append(opts, sqlblob.WithMaxSize(cfg.MaxSize))
		}
		return sqlblob.Open(ctx, cfg.Path, opts...)

	case TypeBolt:
		return boltblob.Open(cfg.Path, 0)

	case TypeS3:
		return s3blob.NewWithConfig(ctx, cfg.S3)

	case TypeTransient:
		return transient.New(cfg.Size, cfg.TTL), nil
	}

	return nil, fmt.Errorf("provider %q: %w %q", cfg.ID, ErrUnknownType, cfg.Type)
}

// NewRegistry creates every configured provider and registers it. If one fails, the
// providers already opened are closed again.
func NewRegistry(ctx context.Context, cfgs []Config, defaultID string) (*blobmanager.Registry, error) {
	registry := blobmanager.NewRegistry()

	for i := range cfgs {
		cfg := &cfgs[i]
		p, err := New(ctx, cfg)
		if err == nil {
			err = registry.RegisterProvider(cfg.ID, p)
			if err != nil {
				closeProvider(p)
			}
		}
		if err != nil {
			if closeErr := registry.Close(); closeErr != nil {
				slog.Warn("close providers", "error", closeErr)
			}
			return nil, err
		}
		slog.Info("blob provider", "id", cfg.ID, "type", cfg.Type)
	}

	if defaultID != "" {
		registry.SetDefaultProvider(defaultID)
	}
	return registry, nil
}

func closeProvider(p blob.Provider) {
	if c, ok := p.(io.Closer); ok {
		c.Close()
	}
}
