package main

import (
	"github.com/spf13/cobra"

	"github.com/solstice035/health-analytics/internal/healthdata"
)

func (c *CLI) newReadCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "read <YYYY-MM-DD>",
		Short: "读取某天的导出文件并输出汇总（带缓存）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := healthdata.ParseDate(args[0])
			if err != nil {
				return err
			}
			rt, err := c.loadRuntime("day_read", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if raw {
				export, err := rt.repo.LoadDay(cmd.Context(), date)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), export)
			}
			summary, err := rt.repo.SummarizeDay(cmd.Context(), date)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "输出完整导出内容而非汇总")
	return cmd
}

func (c *CLI) newRangeCmd() *cobra.Command {
	var flags rangeFlags
	cmd := &cobra.Command{
		Use:   "range",
		Short: "读取连续多天的汇总，缺失的日期作为 gap 报告",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.loadRuntime("day_range", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			end, days, err := flags.resolve(rt.cfg.Cache.WarmDays)
			if err != nil {
				return err
			}
			result, err := rt.repo.LoadRange(cmd.Context(), end, days)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <YYYY-MM-DD>",
		Short: "查看某天导出文件的物化状态与缓存状态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := healthdata.ParseDate(args[0])
			if err != nil {
				return err
			}
			rt, err := c.loadRuntime("day_status", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			status, err := rt.repo.Status(cmd.Context(), date)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
}

func (c *CLI) newDatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dates",
		Short: "列出数据目录中已下载到本地的导出日期",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.loadRuntime("day_list", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			dates, err := rt.repo.AvailableDates(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]string, 0, len(dates))
			for _, d := range dates {
				out = append(out, d.Format(healthdata.DateLayout))
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"dates": out, "count": len(out)})
		},
	}
}
