package main

import (
	"github.com/spf13/cobra"

	"github.com/solstice035/health-analytics/internal/logging"
)

func (c *CLI) newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "仅校验配置后退出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.loadRuntime("check_config", cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fields := logging.BaseFields("check_config", rt.cfg.File)
			fields["data_path"] = rt.cfg.Source.DataPath
			fields["cache_dir"] = rt.cfg.Cache.CacheDir
			fields["fingerprint"] = string(rt.cfg.Cache.Mode())
			fields["result"] = "ok"
			rt.logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}
