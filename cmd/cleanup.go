package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/atlasworld/atlas/internal/config"
	"github.com/atlasworld/atlas/internal/database"
	"github.com/atlasworld/atlas/internal/session"
)

var cleanupRetentionHours int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old completed and abandoned sessions",
	Long: `Cleanup deletes terminal (completed or abandoned) sessions older than
the retention window. Active sessions are never touched, regardless of
age. A file lock prevents overlapping runs from cron.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCleanup(cmd.Context())
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupRetentionHours, "retention-hours", 0,
		"override the configured retention window")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(ctx context.Context) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	retention := time.Duration(cfg.RetentionHours) * time.Hour
	if cleanupRetentionHours > 0 {
		retention = time.Duration(cleanupRetentionHours) * time.Hour
	}

	lock := flock.New(cfg.CleanupLockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring cleanup lock %s: %w", cfg.CleanupLockFile, err)
	}
	if !locked {
		logger.Info("another cleanup run holds the lock, skipping",
			"lock_file", cfg.CleanupLockFile)
		return nil
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("releasing cleanup lock", "error", err)
		}
	}()

	pool, closePool, err := database.Open(ctx, cfg.PostgresURL())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer closePool()

	sessions := session.NewStore(session.NewPGQuerier(pool), logger.With("component", "session"))

	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := sessions.DeleteOlderThan(ctx,
		[]session.Status{session.StatusCompleted, session.StatusAbandoned}, cutoff)
	if err != nil {
		return fmt.Errorf("cleaning up sessions: %w", err)
	}

	logger.Info("cleanup complete", "deleted", deleted, "retention", retention)
	return nil
}
