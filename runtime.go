package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/solstice035/health-analytics/internal/cache"
	"github.com/solstice035/health-analytics/internal/config"
	"github.com/solstice035/health-analytics/internal/healthdata"
	"github.com/solstice035/health-analytics/internal/logging"
	"github.com/solstice035/health-analytics/internal/remotefile"
	"github.com/solstice035/health-analytics/internal/version"
)

// appRuntime 是一次命令执行所需的全部组件。
type appRuntime struct {
	cfg    *config.Config
	logger *logrus.Logger
	store  cache.Store
	coord  *cache.Coordinator
	reader *remotefile.Reader
	repo   *healthdata.Repository
}

// loadRuntime 按“配置 → 日志 → 缓存目录 → Coordinator → Reader → Repository”顺序组装组件，
// 日志写入 console，命令自身的 JSON 输出仍使用 stdout。
func (c *CLI) loadRuntime(action string, console io.Writer) (*appRuntime, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := logging.InitLogger(cfg.Global, console)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	store, err := cache.NewStore(cfg.Cache.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	coord, err := cache.NewCoordinator(store, cache.CoordinatorOptions{
		Logger:          logger,
		FingerprintMode: cfg.Cache.Mode(),
		MaxAge:          cfg.Cache.CacheMaxAge.DurationValue(),
		MaxSizeBytes:    cfg.Cache.CacheMaxSize,
		WarmConcurrency: cfg.Cache.WarmConcurrency,
	})
	if err != nil {
		return nil, err
	}

	reader := remotefile.NewReader(readerOptions(cfg.Source, logger))

	repo, err := healthdata.NewRepository(cfg.Source.DataPath, reader, coord, logger)
	if err != nil {
		return nil, err
	}

	fields := logging.BaseFields(action, cfg.File)
	fields["data_path"] = cfg.Source.DataPath
	fields["cache_dir"] = cfg.Cache.CacheDir
	fields["version"] = version.Full()
	logger.WithFields(fields).Debug("runtime ready")

	return &appRuntime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		coord:  coord,
		reader: reader,
		repo:   repo,
	}, nil
}

func readerOptions(src config.SourceConfig, logger *logrus.Logger) remotefile.Options {
	return remotefile.Options{
		MaxRetries:         src.MaxRetries,
		RetryDelay:         src.RetryDelay.DurationValue(),
		Backoff:            src.RetryBackoff,
		MaterializeTimeout: src.MaterializeTimeout.DurationValue(),
		PollInterval:       src.PollInterval.DurationValue(),
		MinBytes:           src.MinFileBytes,
		Materializer:       remotefile.NewCommandMaterializer(src.MaterializeCommand),
		Logger:             logger,
	}
}
