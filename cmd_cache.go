package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/solstice035/health-analytics/internal/healthdata"
)

// timeNow 供测试替换“今天”的计算。
var timeNow = time.Now

func (c *CLI) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "输出缓存统计（条目数、占用空间、命中率）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.loadRuntime("cache_stats", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rt.coord.Stats(cmd.Context()))
		},
	}
}

func (c *CLI) newInvalidateCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "invalidate [key...]",
		Short: "删除指定缓存条目，或使用 --all 清空缓存",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("需要提供缓存 key，或仅使用 --all")
			}
			rt, err := c.loadRuntime("cache_invalidate", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if all {
				removed, err := rt.coord.InvalidateAll(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]int{"removed": removed})
			}
			for _, key := range args {
				if err := rt.coord.Invalidate(cmd.Context(), key); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), map[string][]string{"invalidated": args})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "清空全部缓存条目")
	return cmd
}

// rangeFlags 是 warm/range 共用的 --days/--end 标志。
type rangeFlags struct {
	days int
	end  string
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.days, "days", 0, "天数（默认使用配置中的 WarmDays）")
	cmd.Flags().StringVar(&f.end, "end", "", "结束日期 YYYY-MM-DD（默认昨天）")
}

func (f *rangeFlags) resolve(defaultDays int) (time.Time, int, error) {
	end := healthdata.Yesterday(timeNow())
	if f.end != "" {
		parsed, err := healthdata.ParseDate(f.end)
		if err != nil {
			return time.Time{}, 0, err
		}
		end = parsed
	}
	days := f.days
	if days == 0 {
		days = defaultDays
	}
	if days < 0 {
		return time.Time{}, 0, errors.New("--days 必须为正数")
	}
	return end, days, nil
}

func (c *CLI) newWarmCmd() *cobra.Command {
	var flags rangeFlags
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "预热最近若干天的导出文件缓存",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.loadRuntime("cache_warm", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			end, days, err := flags.resolve(rt.cfg.Cache.WarmDays)
			if err != nil {
				return err
			}
			report, err := rt.repo.WarmRecent(cmd.Context(), end, days)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	flags.register(cmd)
	return cmd
}
