package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solstice035/health-analytics/internal/logging"
	"github.com/solstice035/health-analytics/internal/server"
	"github.com/solstice035/health-analytics/internal/server/routes"
	"github.com/solstice035/health-analytics/internal/version"
	"github.com/solstice035/health-analytics/internal/watch"
)

const shutdownTimeout = 10 * time.Second

func (c *CLI) newServeCmd() *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动缓存管理 HTTP 服务，并监听数据目录自动刷新",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.loadRuntime("startup", cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), rt, !noWatch)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "不监听数据目录变化")
	return cmd
}

// serve 遵循“Fiber app → 路由 → 目录监听 → Listen”顺序，ctx 结束后优雅退出。
func serve(ctx context.Context, rt *appRuntime, watchDir bool) error {
	port := rt.cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     rt.logger,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, rt.coord, rt.logger)
	routes.RegisterDayRoutes(app, rt.repo, routes.DayRouteOptions{
		WarmDays: rt.cfg.Cache.WarmDays,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchDone := make(chan struct{})
	if watchDir {
		watcher, err := watch.NewWatcher(rt.cfg.Source.DataPath, rt.repo.RefreshDay, watch.Options{Logger: rt.logger})
		if err != nil {
			return err
		}
		go func() {
			defer close(watchDone)
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rt.logger.WithError(err).WithField("action", "watch").Error("目录监听退出")
			}
		}()
	} else {
		close(watchDone)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			rt.logger.WithError(err).WithField("action", "shutdown").Warn("Fiber 服务关闭失败")
		}
	}()

	fields := logging.BaseFields("startup", rt.cfg.File)
	fields["listen_port"] = port
	fields["data_path"] = rt.cfg.Source.DataPath
	fields["watch"] = watchDir
	fields["version"] = version.Full()
	rt.logger.WithFields(fields).Info("Fiber 服务启动")

	err = app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	cancel()
	<-watchDone
	if err != nil {
		return fmt.Errorf("HTTP 服务启动失败: %w", err)
	}
	rt.logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("Fiber 服务已停止")
	return nil
}
