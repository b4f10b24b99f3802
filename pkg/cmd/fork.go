package cmd

import (
	"github.com/spf13/cobra"

	"github.com/yeisme/treevault/pkg/internal/service"
)

var (
	forkSource string
	forkTarget string
	forkUser   string
	forkWait   bool

	forkCmd = &cobra.Command{
		Use:   "fork",
		Short: "project fork jobs",
	}

	forkStartCmd = &cobra.Command{
		Use:   "start",
		Short: "create a fork job copying the source project tree into the target project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, engine, closeFn, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			job, err := engine.Fork.Start(ctx, service.StartForkRequest{
				SourceProjectID: forkSource,
				TargetProjectID: forkTarget,
				UserID:          forkUser,
			})
			if err != nil {
				return err
			}

			if forkWait {
				engine.Fork.Wait()

				if job, err = engine.Fork.Get(ctx, job.JobID); err != nil {
					return err
				}
			}

			return printJSON(cmd.OutOrStdout(), job)
		},
	}

	forkRunCmd = &cobra.Command{
		Use:   "run JOB_ID",
		Short: "run a fork job in the foreground until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, engine, closeFn, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			job, err := engine.Fork.Run(ctx, args[0])
			if job != nil {
				_ = printJSON(cmd.OutOrStdout(), job)
			}

			return err
		},
	}

	forkResumeCmd = &cobra.Command{
		Use:   "resume JOB_ID",
		Short: "resume a RUNNING or FAILED fork job from its cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, engine, closeFn, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if _, err := engine.Fork.Resume(ctx, args[0]); err != nil {
				return err
			}

			// 进程退出前等待后台执行结束
			engine.Fork.Wait()

			job, err := engine.Fork.Get(ctx, args[0])
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), job)
		},
	}

	forkStatusCmd = &cobra.Command{
		Use:   "status JOB_ID",
		Short: "print the state of a fork job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, engine, closeFn, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			job, err := engine.Fork.Get(ctx, args[0])
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), job)
		},
	}
)

func registerForkCommands() {
	forkStartCmd.Flags().StringVar(&forkSource, "source", "", "source project id")
	forkStartCmd.Flags().StringVar(&forkTarget, "target", "", "target project id")
	forkStartCmd.Flags().StringVar(&forkUser, "user", "", "acting user id, defaults to the target project owner")
	forkStartCmd.Flags().BoolVar(&forkWait, "wait", true, "wait for the job to finish")
	_ = forkStartCmd.MarkFlagRequired("source")
	_ = forkStartCmd.MarkFlagRequired("target")

	forkCmd.AddCommand(forkStartCmd, forkRunCmd, forkResumeCmd, forkStatusCmd)
	rootCmd.AddCommand(forkCmd)
}
