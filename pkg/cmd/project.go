package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	ctxPkg "github.com/yeisme/treevault/pkg/context"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
)

var (
	newProject model.Project

	projectCmd = &cobra.Command{
		Use:   "project",
		Short: "project registry",
	}

	projectAddCmd = &cobra.Command{
		Use:   "add",
		Short: "register a project and create its root directory node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, engine, closeFn, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			repo := repository.NewProjectRepository(ctxPkg.GetDBClient(ctx).GetDB())

			p := newProject
			if err := repo.Save(ctx, &p); err != nil {
				return fmt.Errorf("save project: %w", err)
			}

			root, err := engine.Tree.EnsureRoot(ctx, &p)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), map[string]any{"project": p, "root": root})
		},
	}

	projectListCmd = &cobra.Command{
		Use:     "ls",
		Short:   "list registered project ids",
		Aliases: []string{"list"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, mgr, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer mgr.Close() //nolint:errcheck

			ids, err := repository.NewProjectRepository(mgr.GetDBClient().GetDB()).ListIDs(ctx)
			if err != nil {
				return err
			}

			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}

			return nil
		},
	}
)

func registerProjectCommands() {
	f := projectAddCmd.Flags()
	f.StringVar(&newProject.ProjectID, "id", "", "project id")
	f.StringVar(&newProject.OrganizationCode, "org", "", "organization code")
	f.StringVar(&newProject.UserID, "user", "", "owner user id")
	f.StringVar(&newProject.WorkDir, "work-dir", "", "work directory key, every node key lives under it")

	for _, name := range []string{"id", "org", "work-dir"} {
		_ = projectAddCmd.MarkFlagRequired(name)
	}

	projectCmd.AddCommand(projectAddCmd, projectListCmd)
	rootCmd.AddCommand(projectCmd)
}
