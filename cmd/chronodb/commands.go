package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"chronodb/internal/commit"
	"chronodb/internal/config"
	"chronodb/internal/engine"
	"chronodb/internal/sysmetrics"
	"chronodb/internal/temporalkey"
	"chronodb/internal/tmatrix"

	"github.com/spf13/cobra"
)

// openEngine loads config and opens an Engine for commands that only read
// or write existing branches; callers must Close it.
func openEngine(ctx context.Context, cmd *cobra.Command, logger *slog.Logger) (*engine.Engine, error) {
	hd, err := resolveHome(cmd)
	if err != nil {
		return nil, err
	}
	store, err := openConfigStore(cmd, hd)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(ctx, logger, store, hd)
	if err != nil {
		return nil, err
	}
	return engine.Open(cfg, scopedLogger(logger, "engine"))
}

func newServerCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Open the store and run its background maintenance loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			e, err := openEngine(ctx, cmd, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			retentionInterval, _ := cmd.Flags().GetDuration("retention-interval")
			logger.Info("chronodb running", "storageRoot", e.Config.StorageRoot, "branches", e.Branches())

			ticker := time.NewTicker(retentionInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					logger.Info("shutting down")
					return nil
				case <-ticker.C:
					for _, name := range e.Branches() {
						bcm, err := e.BranchChunkManager(name)
						if err != nil {
							continue
						}
						removed, err := bcm.ApplyRetention()
						if err != nil {
							logger.Error("retention sweep failed", "branch", name, "error", err)
							continue
						}
						if len(removed) > 0 {
							logger.Info("retention sweep removed chunks", "branch", name, "count", len(removed))
						}
					}
					logger.Info("process stats", "cpuPercent", sysmetrics.CPUPercent(), "memoryInuseBytes", sysmetrics.MemoryInuse())
				}
			}
		},
	}
	cmd.Flags().Duration("retention-interval", 5*time.Minute, "how often to sweep expired sealed chunks")
	return cmd
}

func newBranchCmd(logger *slog.Logger) *cobra.Command {
	branchCmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage branches",
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Fork a new branch from an origin at a timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			origin, _ := cmd.Flags().GetString("origin")
			at, _ := cmd.Flags().GetUint64("at")

			hd, err := resolveHome(cmd)
			if err != nil {
				return err
			}
			store, err := openConfigStore(cmd, hd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(ctx, logger, store, hd)
			if err != nil {
				return err
			}

			e, err := engine.Open(cfg, scopedLogger(logger, "engine"))
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.CreateBranch(args[0], origin, at); err != nil {
				return err
			}

			cfg.Branches = append(cfg.Branches, config.BranchConfig{
				Name:               args[0],
				Origin:             origin,
				BranchingTimestamp: at,
			})
			if err := store.Save(ctx, cfg); err != nil {
				return fmt.Errorf("persist branch: %w", err)
			}
			fmt.Printf("created branch %q from %q at t=%d\n", args[0], origin, at)
			return nil
		},
	}
	createCmd.Flags().String("origin", "master", "branch to fork from")
	createCmd.Flags().Uint64("at", 0, "timestamp to fork at")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every known branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(context.Background(), cmd, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			for _, info := range e.Registry.List() {
				if info.IsRoot() {
					fmt.Printf("%s\n", info.Name)
					continue
				}
				fmt.Printf("%s (from %s at t=%d)\n", info.Name, info.Origin, info.BranchingTimestamp)
			}
			return nil
		},
	}

	branchCmd.AddCommand(createCmd, listCmd)
	return branchCmd
}

func newCommitCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit one write to a branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			branchName, _ := cmd.Flags().GetString("branch")
			keyspace, _ := cmd.Flags().GetString("keyspace")
			key, _ := cmd.Flags().GetString("key")
			value, _ := cmd.Flags().GetString("value")
			deleted, _ := cmd.Flags().GetBool("delete")

			e, err := openEngine(context.Background(), cmd, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			pipeline, err := e.Pipeline(branchName)
			if err != nil {
				return err
			}
			ts, err := pipeline.Commit([]commit.Write{{
				Keyspace: keyspace,
				Key:      key,
				Value:    []byte(value),
				Deleted:  deleted,
			}})
			if err != nil {
				return err
			}
			fmt.Printf("committed at t=%d\n", ts)
			return nil
		},
	}
	cmd.Flags().String("branch", "master", "branch to commit to")
	cmd.Flags().String("keyspace", "", "keyspace of the written key")
	cmd.Flags().String("key", "", "key to write")
	cmd.Flags().String("value", "", "value to write (ignored with --delete)")
	cmd.Flags().Bool("delete", false, "write a tombstone instead of a value")
	return cmd
}

func newGetCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Point-in-time read of one key",
		RunE: func(cmd *cobra.Command, args []string) error {
			branchName, _ := cmd.Flags().GetString("branch")
			keyspace, _ := cmd.Flags().GetString("keyspace")
			key, _ := cmd.Flags().GetString("key")
			at, _ := cmd.Flags().GetUint64("at")

			e, err := openEngine(context.Background(), cmd, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			T := temporalkey.Timestamp(at)
			if at == 0 {
				pipeline, err := e.Pipeline(branchName)
				if err != nil {
					return err
				}
				T = pipeline.LastCommittedT()
			}

			value, found, err := e.Resolver.Get(branchName, keyspace, key, T)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("(not found)")
				return nil
			}
			fmt.Printf("%s\n", value)
			return nil
		},
	}
	cmd.Flags().String("branch", "master", "branch to read from")
	cmd.Flags().String("keyspace", "", "keyspace of the key")
	cmd.Flags().String("key", "", "key to read")
	cmd.Flags().Uint64("at", 0, "timestamp to read as of (0 = latest committed on branch)")
	return cmd
}

func newHistoryCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List every version of one key up to a timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			branchName, _ := cmd.Flags().GetString("branch")
			keyspace, _ := cmd.Flags().GetString("keyspace")
			key, _ := cmd.Flags().GetString("key")
			at, _ := cmd.Flags().GetUint64("at")
			descending, _ := cmd.Flags().GetBool("descending")

			e, err := openEngine(context.Background(), cmd, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			T := temporalkey.Timestamp(at)
			if at == 0 {
				pipeline, err := e.Pipeline(branchName)
				if err != nil {
					return err
				}
				T = pipeline.LastCommittedT()
			}

			order := tmatrix.Ascending
			if descending {
				order = tmatrix.Descending
			}
			versions, err := e.Resolver.History(branchName, keyspace, key, T, order)
			if err != nil {
				return err
			}
			for _, v := range versions {
				if v.Tombstone {
					fmt.Printf("t=%d (deleted)\n", v.T)
					continue
				}
				fmt.Printf("t=%d %s\n", v.T, v.Value)
			}
			return nil
		},
	}
	cmd.Flags().String("branch", "master", "branch to read from")
	cmd.Flags().String("keyspace", "", "keyspace of the key")
	cmd.Flags().String("key", "", "key to read")
	cmd.Flags().Uint64("at", 0, "upper timestamp bound (0 = latest committed on branch)")
	cmd.Flags().Bool("descending", false, "list newest-first")
	return cmd
}

func newReindexCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex <name>",
		Short: "Rebuild a named index from scratch across every branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(context.Background(), cmd, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.Reindexer.Reindex(args[0]); err != nil {
				return err
			}
			fmt.Printf("reindexed %q\n", args[0])
			return nil
		},
	}
	return cmd
}
