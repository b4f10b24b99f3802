package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	kv "github.com/yeisme/treevault/pkg/internal/storage/kv"
)

var (
	lockCmd = &cobra.Command{
		Use:   "lock",
		Short: "project lock commands",
	}

	lockListCmd = &cobra.Command{
		Use:     "ls",
		Short:   "list project locks currently held",
		Aliases: []string{"list"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, mgr, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer mgr.Close() //nolint:errcheck

			held, err := mgr.GetLocker().Held(ctx)
			if err != nil {
				return err
			}

			slices.Sort(held)

			for _, key := range held {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}

			return nil
		},
	}

	lockBackendsCmd = &cobra.Command{
		Use:   "backends",
		Short: "list all registered lock backends",
		Run: func(cmd *cobra.Command, args []string) {
			types := kv.GetRegisteredKVTypes()
			slices.Sort(types)

			fmt.Fprintln(cmd.OutOrStdout(), "Registered lock backends:")

			for _, t := range types {
				fmt.Fprintln(cmd.OutOrStdout(), "   - "+string(t))
			}
		},
	}
)

func registerLockCommands() {
	lockCmd.AddCommand(lockListCmd, lockBackendsCmd)
	rootCmd.AddCommand(lockCmd)
}
