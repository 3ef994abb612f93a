package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmined/blobdispatch/internal/config"
	"github.com/openmined/blobdispatch/internal/dispatch"
	"github.com/openmined/blobdispatch/internal/docblob"
	"github.com/openmined/blobdispatch/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the blob API",
		Long:  "Serve the blob API. SIGHUP reloads the dispatch rules from the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if addr, _ := cmd.Flags().GetString("bind"); addr != "" {
				cfg.HTTP.Addr = addr
			}

			cmd.SilenceUsage = true

			mgr, err := newManager(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeManager(mgr)

			srv, err := server.New(&cfg.HTTP, mgr)
			if err != nil {
				return err
			}

			go reloadOnHangup(cmd.Context(), cfg.Path, mgr)

			defer slog.Info("Bye!")
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringP("bind", "b", "", "Address to bind, overrides http.addr")
	return cmd
}

func reloadOnHangup(ctx context.Context, path string, mgr *docblob.Manager) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reloadDispatch(path, mgr); err != nil {
				slog.Error("dispatch reload", "error", err)
			}
		}
	}
}

// reloadDispatch swaps in the dispatch rules of the config file. Providers are not reopened.
func reloadDispatch(path string, mgr *docblob.Manager) error {
	cfg, err := config.Load(config.NewViper(), path)
	if err != nil {
		return err
	}

	d, err := dispatch.New(&cfg.Dispatch)
	if err != nil {
		return err
	}

	if err := mgr.Reload(d); err != nil {
		return err
	}

	slog.Info("dispatch reloaded", "rules", len(d.Rules()), "default", d.DefaultProvider(""))
	return nil
}
