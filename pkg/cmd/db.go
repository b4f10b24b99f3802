package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/yeisme/treevault/pkg/internal/storage/db"
)

var (
	dbCmd = &cobra.Command{
		Use:   "db",
		Short: "Database related commands",
	}

	dbListCmd = &cobra.Command{
		Use:   "ls",
		Short: "list all registered database types",
		Run: func(cmd *cobra.Command, args []string) {
			types := db.GetRegisteredDBTypes()
			slices.Sort(types)

			fmt.Fprintln(cmd.OutOrStdout(), "Registered database types:")

			for _, dbType := range types {
				fmt.Fprintln(cmd.OutOrStdout(), " - "+dbType)
			}
		},
	}

	dbMigrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "create or update the file_nodes, projects and fork_jobs tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := db.New(cmd.Context())
			if err != nil {
				return err
			}

			if err := client.Migrate(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "migration done")

			return nil
		},
	}
)

// registerDBCommands 注册数据库相关命令.
func registerDBCommands() {
	rootCmd.AddCommand(dbCmd)

	dbCmd.AddCommand(dbListCmd, dbMigrateCmd)
}
