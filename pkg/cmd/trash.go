package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	trashProject string
	trashDays    int

	trashCmd = &cobra.Command{
		Use:   "trash",
		Short: "tombstone cleanup",
	}

	trashPurgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "hard-delete tombstones older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, engine, closeFn, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			before := engine.Trash.Cutoff()
			if trashDays > 0 {
				before = time.Now().Add(-time.Duration(trashDays) * 24 * time.Hour)
			}

			if trashProject == "" {
				res, err := engine.Trash.PurgeAll(ctx, before)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), res)
			}

			res, err := engine.Trash.Purge(ctx, trashProject, before)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), res)
		},
	}
)

func registerTrashCommands() {
	trashPurgeCmd.Flags().StringVar(&trashProject, "project", "", "project id, empty purges every project")
	trashPurgeCmd.Flags().IntVar(&trashDays, "days", 0, "retention in days, 0 uses tree.trash.retention_days")

	trashCmd.AddCommand(trashPurgeCmd)
	rootCmd.AddCommand(trashCmd)
}
