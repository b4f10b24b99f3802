package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	mq "github.com/yeisme/treevault/pkg/internal/storage/mq"
	"github.com/yeisme/treevault/pkg/queue"
)

var (
	mqCmd = &cobra.Command{
		Use:     "mq",
		Short:   "Message queue related commands",
		Aliases: []string{"messagequeue"},
	}

	mqListCmd = &cobra.Command{
		Use:     "list",
		Short:   "list registered mq types and the topics events are published to",
		Aliases: []string{"ls", "l"},
		Run: func(cmd *cobra.Command, args []string) {
			types := mq.GetRegisteredMQTypes()
			slices.Sort(types)

			fmt.Fprintln(cmd.OutOrStdout(), "Registered mq types:")

			for _, t := range types {
				fmt.Fprintln(cmd.OutOrStdout(), "   - "+string(t))
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Topics:")

			for _, t := range append(queue.NodeTopics(), queue.TopicForkFinished, queue.TopicReconciled) {
				fmt.Fprintln(cmd.OutOrStdout(), "   - "+t)
			}
		},
	}
)

// registerMQCommands 注册 MQ 相关命令.
func registerMQCommands() {
	rootCmd.AddCommand(mqCmd)
	mqCmd.AddCommand(mqListCmd)
}
