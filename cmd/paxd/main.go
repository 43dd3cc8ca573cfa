// Command paxd is the PaxD extension host: it manages installed extensions
// and dispatches package-manager triggers to them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mralfiem591/paxd/internal/config"
	"github.com/mralfiem591/paxd/internal/extension"
	"github.com/mralfiem591/paxd/internal/trigger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "paxd",
	Short:         "PaxD extension host and trigger dispatcher",
	Long:          `paxd manages sandboxed Lua extensions and fires package-manager lifecycle triggers at them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to config file")
	rootCmd.AddCommand(newExtensionCmd())
	rootCmd.AddCommand(newFireCmd())
	rootCmd.AddCommand(newTriggersCmd())
	rootCmd.AddCommand(newServeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app is the wired-up runtime every subcommand works against.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *extension.Store
	manager    *extension.Manager
	dispatcher *trigger.Dispatcher
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.Logging.Level),
	}))

	store, err := extension.NewStore(cfg.Paths.ExtensionsDir, cfg.Paths.DataDir)
	if err != nil {
		return nil, err
	}

	registry := trigger.NewRegistry()
	manager := extension.NewManager(store, registry, logger)
	if err := manager.LoadInstalled(ctx); err != nil {
		return nil, err
	}

	opts := []trigger.DispatcherOption{
		trigger.WithTimeBudget(cfg.Extensions.HandlerTimeout),
		trigger.WithLogger(logger),
	}
	if cfg.Extensions.Audit {
		opts = append(opts, trigger.WithSink(trigger.NewRecorder(cfg.Extensions.AuditDir, logger)))
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		manager:    manager,
		dispatcher: trigger.NewDispatcher(registry, opts...),
	}, nil
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
