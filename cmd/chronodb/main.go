// Command chronodb is a thin CLI over the core engine package: every
// sub-command opens (or loads) an Engine in-process and calls straight
// into its API. There is no separately-running server to dial and no
// wire protocol — chronodb *is* the process that owns the data for the
// duration of the command.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"chronodb/internal/config"
	configfile "chronodb/internal/config/file"
	configmem "chronodb/internal/config/memory"
	"chronodb/internal/home"
	"chronodb/internal/logging"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(baseHandler)

	rootCmd := &cobra.Command{
		Use:   "chronodb",
		Short: "Temporal key-value store",
	}
	rootCmd.PersistentFlags().String("home", "", "home directory (default: platform config dir)")
	rootCmd.PersistentFlags().String("config-type", "file", "config store type: file or memory")

	rootCmd.AddCommand(
		newServerCmd(logger),
		newBranchCmd(logger),
		newCommitCmd(logger),
		newGetCmd(logger),
		newHistoryCmd(logger),
		newReindexCmd(logger),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run:   func(cmd *cobra.Command, args []string) { fmt.Println(version) },
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveHome picks the home directory: an explicit --home flag, or the
// platform default.
func resolveHome(cmd *cobra.Command) (home.Dir, error) {
	flagValue, _ := cmd.Flags().GetString("home")
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}

// openConfigStore opens the config.Store named by --config-type.
func openConfigStore(cmd *cobra.Command, hd home.Dir) (config.Store, error) {
	configType, _ := cmd.Flags().GetString("config-type")
	switch configType {
	case "memory":
		return configmem.NewStore(), nil
	case "file", "":
		return configfile.NewStore(hd.ConfigPath()), nil
	default:
		return nil, fmt.Errorf("unknown config store type %q", configType)
	}
}

// defaultConfig seeds a minimal configuration: a storage root and an
// enabled read cache, with no branches beyond the implicit root branch
// and no secondary indexes until the config file names some.
func defaultConfig(storageRoot string) *config.Config {
	return &config.Config{
		StorageRoot: storageRoot,
		ReadCache:   config.CacheConfig{Enabled: true, MaxSize: 10000, AssumeImmutable: false},
	}
}

// loadConfig loads the persisted configuration, bootstrapping a minimal
// default in place if none exists yet, and persisting it so subsequent
// invocations see the same storage root.
func loadConfig(ctx context.Context, logger *slog.Logger, store config.Store, hd home.Dir) (*config.Config, error) {
	cfg, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg != nil {
		return cfg, nil
	}
	logger.Info("no config found, bootstrapping a minimal default")
	cfg = defaultConfig(hd.StorageRoot())
	if err := store.Save(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save bootstrapped config: %w", err)
	}
	return cfg, nil
}

// scopedLogger builds the scoped logger every sub-command passes down to the
// engine, matching internal/logging's dependency-injection convention.
func scopedLogger(base *slog.Logger, component string) *slog.Logger {
	return logging.Default(base).With("component", component)
}
