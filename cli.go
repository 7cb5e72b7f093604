package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/solstice035/health-analytics/internal/config"
	"github.com/solstice035/health-analytics/internal/remotefile"
	"github.com/solstice035/health-analytics/internal/version"
)

// 退出码：1 为一般错误，3 表示请求的数据暂时或永久不可用。
const (
	exitFailure     = 1
	exitUnavailable = 3
)

// CLI 持有 cobra 根命令以及所有子命令共享的全局标志。
type CLI struct {
	rootCmd    *cobra.Command
	configPath string
}

func newCLI() *CLI {
	c := &CLI{}

	rootCmd := &cobra.Command{
		Use:           "health-analytics",
		Short:         "Health Auto Export 数据的缓存与读取工具",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "",
		fmt.Sprintf("配置文件路径（默认 ./%s，可被 %s 覆盖）", config.DefaultConfigFile, config.ConfigPathEnv))

	c.rootCmd = rootCmd
	rootCmd.AddCommand(
		c.newStatsCmd(),
		c.newInvalidateCmd(),
		c.newWarmCmd(),
		c.newReadCmd(),
		c.newRangeCmd(),
		c.newStatusCmd(),
		c.newDatesCmd(),
		c.newServeCmd(),
		c.newCheckConfigCmd(),
		c.newVersionCmd(),
	)
	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// writeJSON 以缩进 JSON 输出命令结果，便于脚本与人工阅读。
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitCode(err error) int {
	if errors.Is(err, remotefile.ErrUnavailable) {
		return exitUnavailable
	}
	return exitFailure
}
