// cmd/safehold/main.go
package main

import (
	"fmt"
	"os"
	"time"

	"safehold"
	"safehold/internal/logging"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Swapped for the configured logger in openVault.
var logger = zap.NewNop()

var (
	rootDir    string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "safehold",
	Short: "Safehold coordinates atomic file mutations",
	Long: `Safehold protects a directory against partial writes. It takes advisory
cross-process locks, checkpoints files before they change, journals every
operation, and can roll the directory back to any checkpoint.`,
}

func openVault() (*safehold.Vault, error) {
	cfg := safehold.DefaultConfig(rootDir)
	if configPath != "" {
		loaded, err := safehold.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	log, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger = log.WithComponent("cli")

	return safehold.New(rootDir, logger, safehold.WithConfig(cfg))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "directory the .security tree lives under")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config file")

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize the .security tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return fmt.Errorf("initializing: %w", err)
			}
			fmt.Println("Initialized safehold state in", v.Root())
			return nil
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint, transaction, lock, and process state",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()

			report := v.Status()
			if report.Error != "" {
				fmt.Printf("%s %s\n", red("degraded:"), report.Error)
			}
			if report.Checkpoints != nil {
				fmt.Printf("Checkpoints: %d (last %s)\n", report.Checkpoints.Total, orNone(report.Checkpoints.LastID))
			}
			if report.Transactions != nil {
				active := fmt.Sprintf("%d active", report.Transactions.Active)
				if report.Transactions.Active > 0 {
					active = yellow(active)
				} else {
					active = green(active)
				}
				fmt.Printf("Transactions: %d (last %s, %s)\n", report.Transactions.Total, orNone(report.Transactions.LastID), active)
			}
			if report.Locks != nil {
				fmt.Printf("Locks: %d active\n", report.Locks.Active)
			}
			if report.Process != nil {
				fmt.Printf("Process: pid %d, up %.0fs, heap %d bytes, %s\n",
					report.Process.PID,
					report.Process.UptimeSeconds,
					report.Process.HeapAllocBytes,
					report.Process.RuntimeVersion,
				)
			}
			return nil
		},
	}

	var cleanupMaxAge time.Duration
	var cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Purge old terminal records and expired locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			result, err := v.Cleanup(cleanupMaxAge)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			fmt.Printf("Removed %d checkpoints, %d transactions, %d locks\n",
				result.Checkpoints, result.Transactions, result.Locks)
			return nil
		},
	}
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "purge terminal records older than this (default: configured retention)")

	var watchLocks bool
	var locksCmd = &cobra.Command{
		Use:   "locks",
		Short: "List active group locks",
		Long:  `Lists every unexpired group lock. With --watch, re-renders whenever the lock directory changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			if err := printLocks(v); err != nil {
				return err
			}
			if !watchLocks {
				return nil
			}
			return watchLockDir(v)
		},
	}
	locksCmd.Flags().BoolVar(&watchLocks, "watch", false, "keep watching the lock directory for changes")

	var checkpointsCmd = &cobra.Command{
		Use:   "checkpoints",
		Short: "List checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			checkpoints, err := v.ListCheckpoints()
			if err != nil {
				return fmt.Errorf("listing checkpoints: %w", err)
			}
			if len(checkpoints) == 0 {
				fmt.Println("No checkpoints found")
				return nil
			}
			for _, cp := range checkpoints {
				fmt.Printf("%s  %s  %-12s  %d files  [%s]\n",
					cp.ID,
					cp.Timestamp.Format(time.RFC3339),
					cp.State,
					len(cp.Backups),
					cp.Description,
				)
			}
			return nil
		},
	}

	var showCmd = &cobra.Command{
		Use:   "show [checkpoint-id]",
		Short: "Show one checkpoint in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			cp, err := v.GetCheckpoint(args[0])
			if err != nil {
				return fmt.Errorf("loading checkpoint: %w", err)
			}
			fmt.Printf("Checkpoint %s (%s)\n", cp.ID, cp.State)
			fmt.Printf("  Created:     %s\n", cp.Timestamp.Format(time.RFC3339))
			fmt.Printf("  Description: %s\n", cp.Description)
			fmt.Printf("  Creator:     %s (pid %d, %s)\n", cp.Metadata.Creator, cp.Metadata.ProcessID, cp.Metadata.RuntimeVersion)
			fmt.Println("  Files:")
			for path, backup := range cp.Backups {
				compressed := ""
				if backup.Compressed {
					compressed = " (compressed)"
				}
				fmt.Printf("    %s  %d bytes%s\n", path, backup.Metadata.Size, compressed)
			}
			return nil
		},
	}
	checkpointsCmd.AddCommand(showCmd)

	var rollbackCmd = &cobra.Command{
		Use:   "rollback [checkpoint-id]",
		Short: "Restore every file a checkpoint backed up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			result, err := v.RollbackToCheckpoint(args[0])
			if err != nil {
				return fmt.Errorf("rolling back: %w", err)
			}
			fmt.Printf("Restored %d files from checkpoint %s\n", result.FilesRestored, args[0])
			return nil
		},
	}

	rootCmd.AddCommand(initCmd, statusCmd, cleanupCmd, locksCmd, checkpointsCmd, rollbackCmd)
}

func printLocks(v *safehold.Vault) error {
	locks, err := v.ActiveLocks()
	if err != nil {
		return fmt.Errorf("listing locks: %w", err)
	}
	if len(locks) == 0 {
		fmt.Println("No active locks")
		return nil
	}
	for _, group := range locks {
		fmt.Printf("%s  expires %s  %d files\n",
			group.ID,
			group.ExpiresAt.Format(time.RFC3339),
			len(group.Files),
		)
		for path := range group.Files {
			fmt.Printf("    %s\n", path)
		}
	}
	return nil
}

func watchLockDir(v *safehold.Vault) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	lockDir := v.Root() + "/.security/locks"
	if err := watcher.Add(lockDir); err != nil {
		return fmt.Errorf("watching %s: %w", lockDir, err)
	}
	fmt.Println("Watching", lockDir)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Write) == 0 {
				continue
			}
			fmt.Println()
			if err := printLocks(v); err != nil {
				logger.Warn("failed to list locks", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		}
	}
}

func orNone(id string) string {
	if id == "" {
		return "none"
	}
	return id
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
