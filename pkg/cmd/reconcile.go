package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/yeisme/treevault/pkg/internal/service"
)

var (
	reconcileOpts     service.ReconcileOptions
	reconcileLockFile string

	reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "repair duplicate keys, directory flags and orphan nodes",
		Long: `Runs the dedup reconciler once. Stages, in order:
  deleted_keys   keys that only have tombstones left
  is_directory   rows of one key disagreeing on the directory flag
  directories    duplicate directory rows, children rewired to the kept row
  files          duplicate file rows
  orphans        live rows whose parent row is gone

Only one reconcile runs per host; a second invocation exits immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			guard := flock.New(reconcileLockFile)

			locked, err := guard.TryLock()
			if err != nil {
				return fmt.Errorf("acquire %s: %w", reconcileLockFile, err)
			}

			if !locked {
				return fmt.Errorf("another reconcile is already running (%s)", reconcileLockFile)
			}
			defer guard.Unlock() //nolint:errcheck

			ctx, engine, closeFn, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := engine.Dedup.Run(ctx, reconcileOpts)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), res)
		},
	}
)

func registerReconcileCommands() {
	f := reconcileCmd.Flags()
	f.BoolVar(&reconcileOpts.DryRun, "dry-run", false, "report what would change without writing")
	f.IntVar(&reconcileOpts.BatchSize, "batch-size", 0, "keys per batch, 0 uses tree.dedup.batch_size")
	f.IntVar(&reconcileOpts.MaxIterations, "max-iterations", 0, "batches per project and stage, 0 uses tree.dedup.max_iterations")
	f.StringSliceVar(&reconcileOpts.ProjectIDs, "project", nil, "limit to these project ids (repeatable)")
	f.StringVar(&reconcileLockFile, "lock-file", filepath.Join(os.TempDir(), "treevault-reconcile.lock"), "single-instance lock file")

	rootCmd.AddCommand(reconcileCmd)
}
