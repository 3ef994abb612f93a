package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/blobdispatch/internal/config"
	"github.com/openmined/blobdispatch/internal/utils"
	"github.com/openmined/blobdispatch/internal/version"
	"github.com/spf13/cobra"
)

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "blobdispatch",
		Short:         "Content-addressable blob dispatch across storage providers",
		Version:       version.Detailed(),
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default ./blobdispatch.yaml or ~/.blobdispatch/blobdispatch.yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Load environment variables from this file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level, overrides the config (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(),
		newPutCmd(),
		newGetCmd(),
		newRouteCmd(),
		newRulesCmd(),
		newValidateCmd(),
		newProvidersCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func main() {
	setupLogger(slog.LevelInfo, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		os.Exit(1)
	}
}

// loadConfig reads the .env file, the config file and the environment, in that order of
// increasing precedence, then applies the --log-level flag and reconfigures logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	v := config.NewViper()
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		v.Set("log.level", f.Value.String())
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}

	level, _ := cfg.Log.SlogLevel()
	var logFile *os.File
	if cfg.Log.File != "" {
		if err := utils.EnsureParent(cfg.Log.File); err != nil {
			return nil, fmt.Errorf("log dir: %w", err)
		}
		logFile, err = os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
	}
	setupLogger(level, logFile)

	slog.Debug("config loaded", "path", cfg.Path, "providers", len(cfg.Providers), "strict", cfg.Strict)
	return cfg, nil
}

// setupLogger logs to stderr, colored on a terminal, and as JSON to file when given
func setupLogger(level slog.Level, file *os.File) {
	var handler slog.Handler = tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: logTimeFormat,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	if file != nil {
		fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
		handler = utils.NewMultiLogHandler(handler, fileHandler)
	}

	slog.SetDefault(slog.New(handler))
}
