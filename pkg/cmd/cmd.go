// Package cmd contains the command line applications for the project.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/yeisme/treevault/pkg/configs"
	ctxPkg "github.com/yeisme/treevault/pkg/context"
	"github.com/yeisme/treevault/pkg/internal/service"
	"github.com/yeisme/treevault/pkg/internal/storage"
	"github.com/yeisme/treevault/pkg/log"
)

var (
	configPath string
	debug      bool

	rootCmd = &cobra.Command{
		Use:           "treevault",
		Short:         "Hierarchical file-tree consistency engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := configs.InitConfig(configPath); err != nil {
				return err
			}

			if debug {
				cfg := configs.GetConfig()
				cfg.Server.Debug = true
				cfg.Log.Level = "debug"
			}

			log.Init()

			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "config file or directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug mode")

	registerServeCommands()
	registerForkCommands()
	registerReconcileCommands()
	registerTrashCommands()
	registerProjectCommands()
	registerDBCommands()
	registerLockCommands()
	registerMQCommands()
	registerConfigsCommands()
}

// Execute runs the root command.收到 SIGINT/SIGTERM 时取消 ctx.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}

	return nil
}

// openStorage 初始化存储并把 Manager 挂到 ctx 上.
func openStorage(ctx context.Context) (context.Context, *storage.Manager, error) {
	mgr, err := storage.Init(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("init storage: %w", err)
	}

	return ctxPkg.WithStorageManager(ctx, mgr), mgr, nil
}

// openEngine 初始化存储与服务实例，调用方负责 close.
func openEngine(ctx context.Context) (context.Context, *service.Engine, func(), error) {
	ctx, mgr, err := openStorage(ctx)
	if err != nil {
		return ctx, nil, nil, err
	}

	closeFn := func() {
		if err := mgr.Close(); err != nil {
			log.Logger().Warn().Err(err).Msg("close storage failed")
		}
	}

	return ctx, service.NewEngine(service.NewDeps(ctx)), closeFn, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(b))

	return err
}
