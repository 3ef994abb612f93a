package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openmined/blobdispatch/internal/config"
	"github.com/openmined/blobdispatch/internal/dispatch"
	"github.com/openmined/blobdispatch/internal/docblob"
	"github.com/openmined/blobdispatch/internal/provider"
)

// newManager opens every configured provider and puts the dispatcher in front of them.
// The caller closes the providers through manager.Registry().Close().
func newManager(ctx context.Context, cfg *config.Config) (*docblob.Manager, error) {
	registry, err := provider.NewRegistry(ctx, cfg.Providers, cfg.Dispatch.Default)
	if err != nil {
		return nil, err
	}

	d, err := dispatch.New(&cfg.Dispatch)
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	var opts []docblob.Option
	if cfg.Strict {
		opts = append(opts, docblob.WithStrictValidation())
	}

	mgr, err := docblob.New(registry, d, opts...)
	if err != nil {
		registry.Close()
		return nil, err
	}
	return mgr, nil
}

func closeManager(mgr *docblob.Manager) {
	if err := mgr.Registry().Close(); err != nil {
		slog.Warn("close providers", "error", err)
	}
}
