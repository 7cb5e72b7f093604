package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/solstice035/health-analytics/internal/version"
)

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion(w io.Writer) {
	fmt.Fprintln(w, version.Full())
}
