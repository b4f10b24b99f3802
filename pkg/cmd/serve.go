package cmd

import (
	"github.com/spf13/cobra"

	"github.com/yeisme/treevault/pkg/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the admin HTTP server and scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.NewApp(cmd.Context())
		if err != nil {
			return err
		}

		return a.Run(cmd.Context())
	},
}

func registerServeCommands() {
	rootCmd.AddCommand(serveCmd)
}
