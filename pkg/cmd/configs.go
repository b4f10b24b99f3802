package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/rule"
)

var (
	// config 子命令.
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "config subcommands",
	}

	// 打印当前使用的配置文件路径.
	pathCmd = &cobra.Command{
		Use:   "path",
		Short: "print the path of the current config file",
		Run: func(cmd *cobra.Command, args []string) {
			v := configs.GetViper()
			if v == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "config not initialized")
				return
			}

			cfg := v.ConfigFileUsed()
			if cfg == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no config file used (maybe using defaults or env)")
				return
			}

			fmt.Fprintln(cmd.OutOrStdout(), cfg)
		},
	}

	// 以 JSON 打印当前配置，--debug 时附带 viper 的 Debug 输出.
	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "print the current config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := configs.GetViper()
			if v == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "config not initialized.")
				return nil
			}

			if debug {
				v.Debug()
			}

			return printJSON(cmd.OutOrStdout(), configs.GetConfig())
		},
	}

	// 按 rule 标签校验引擎使用的配置段.
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "validate the server, log, db, lock and tree sections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configs.GetConfig()

			var errs []error

			sections := []struct {
				name string
				v    any
			}{
				{"server", cfg.Server},
				{"log", cfg.Log},
				{"db", cfg.DB},
				{"lock", cfg.Lock},
				{"tree", cfg.Tree},
			}

			for _, sec := range sections {
				err := rule.ValidateStruct(sec.v)
				if fields := rule.Errors(err); fields != nil {
					err = fields
				}

				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", sec.name, err))
				}
			}

			if err := errors.Join(errs...); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "config ok")

			return nil
		},
	}
)

// registerConfigsCommands 注册 CLI 子命令.
func registerConfigsCommands() {
	configCmd.AddCommand(pathCmd, debugCmd, validateCmd)

	rootCmd.AddCommand(configCmd)
}
