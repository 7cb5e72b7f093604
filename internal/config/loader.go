package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// DefaultConfigFile 位于工作目录，存在时自动读取。
	DefaultConfigFile = "health-analytics.toml"
	// ConfigPathEnv 指定配置文件路径，优先级低于 --config。
	ConfigPathEnv = "HEALTH_ANALYTICS_CONFIG"
)

// StderrLogPath 作为 LogFilePath 时日志写入 stderr，不做路径解析。
const StderrLogPath = "stderr"

// envBindings 将配置键映射到环境变量，环境变量覆盖文件与默认值。
var envBindings = map[string]string{
	"DataPath":           "HEALTH_DATA_PATH",
	"CacheDir":           "HEALTH_ANALYTICS_CACHE_DIR",
	"CacheMaxAge":        "HEALTH_ANALYTICS_CACHE_MAX_AGE",
	"CacheMaxSize":       "HEALTH_ANALYTICS_CACHE_MAX_SIZE",
	"FingerprintMode":    "HEALTH_ANALYTICS_FINGERPRINT",
	"MaxRetries":         "HEALTH_ANALYTICS_MAX_RETRIES",
	"RetryDelay":         "HEALTH_ANALYTICS_RETRY_DELAY",
	"RetryBackoff":       "HEALTH_ANALYTICS_RETRY_BACKOFF",
	"MaterializeTimeout": "HEALTH_ANALYTICS_MATERIALIZE_TIMEOUT",
	"PollInterval":       "HEALTH_ANALYTICS_POLL_INTERVAL",
	"MinFileBytes":       "HEALTH_ANALYTICS_MIN_FILE_BYTES",
	"MaterializeCommand": "HEALTH_ANALYTICS_MATERIALIZE_COMMAND",
	"WarmDays":           "HEALTH_ANALYTICS_WARM_DAYS",
	"WarmConcurrency":    "HEALTH_ANALYTICS_WARM_CONCURRENCY",
	"ListenPort":         "HEALTH_ANALYTICS_PORT",
	"LogLevel":           "HEALTH_ANALYTICS_LOG_LEVEL",
	"LogFilePath":        "HEALTH_ANALYTICS_LOG_FILE",
	"LogMaxSize":         "HEALTH_ANALYTICS_LOG_MAX_SIZE",
	"LogMaxBackups":      "HEALTH_ANALYTICS_LOG_MAX_BACKUPS",
	"LogCompress":        "HEALTH_ANALYTICS_LOG_COMPRESS",
}

// Load 合并默认值、TOML 配置文件与环境变量，并完成校验。
// path 为空时依次尝试 HEALTH_ANALYTICS_CONFIG 与工作目录下的 health-analytics.toml；
// 显式指定的文件必须存在，默认文件缺失时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigPathEnv))
	}
	if path == "" {
		path = DefaultConfigFile
		explicit = false
	}

	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if fileExists(path) || explicit {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
		cfg.File = path
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("DataPath", "./data")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("RetryDelay", "1s")
	v.SetDefault("RetryBackoff", 1.0)
	v.SetDefault("MaterializeTimeout", "30s")
	v.SetDefault("PollInterval", "500ms")
	v.SetDefault("MinFileBytes", 1)
	v.SetDefault("MaterializeCommand", "brctl")
	v.SetDefault("CacheDir", "./.cache")
	v.SetDefault("CacheMaxAge", "24h")
	v.SetDefault("CacheMaxSize", 0)
	v.SetDefault("FingerprintMode", "stat")
	v.SetDefault("WarmDays", 30)
	v.SetDefault("WarmConcurrency", 4)
}

func bindEnv(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}
	return nil
}

// applyGlobalDefaults 兜底处理显式写成空值的字段。CacheMaxAge 为 0 表示永不过期，不做回填。
func applyGlobalDefaults(cfg *Config) {
	if cfg.Global.ListenPort == 0 {
		cfg.Global.ListenPort = 8080
	}
	if strings.TrimSpace(cfg.Global.LogLevel) == "" {
		cfg.Global.LogLevel = "info"
	}
	if cfg.Source.RetryDelay.DurationValue() == 0 {
		cfg.Source.RetryDelay = Duration(time.Second)
	}
	if cfg.Source.RetryBackoff == 0 {
		cfg.Source.RetryBackoff = 1
	}
	if cfg.Source.MaterializeTimeout.DurationValue() == 0 {
		cfg.Source.MaterializeTimeout = Duration(30 * time.Second)
	}
	if cfg.Source.PollInterval.DurationValue() == 0 {
		cfg.Source.PollInterval = Duration(500 * time.Millisecond)
	}
	cfg.Source.MaterializeCommand = strings.TrimSpace(cfg.Source.MaterializeCommand)
	cfg.Cache.FingerprintMode = strings.ToLower(strings.TrimSpace(cfg.Cache.FingerprintMode))
	if cfg.Cache.FingerprintMode == "" {
		cfg.Cache.FingerprintMode = "stat"
	}
}

func (c *Config) resolvePaths() error {
	dataPath, err := absPath(c.Source.DataPath)
	if err != nil {
		return fmt.Errorf("无法解析数据目录: %w", err)
	}
	c.Source.DataPath = dataPath

	cacheDir, err := absPath(c.Cache.CacheDir)
	if err != nil {
		return fmt.Errorf("无法解析缓存目录: %w", err)
	}
	c.Cache.CacheDir = cacheDir

	if c.Global.LogFilePath != "" && c.Global.LogFilePath != StderrLogPath {
		logPath, err := absPath(c.Global.LogFilePath)
		if err != nil {
			return fmt.Errorf("无法解析日志路径: %w", err)
		}
		c.Global.LogFilePath = logPath
	}
	return nil
}

// absPath 展开 "~/" 前缀后转换为绝对路径。
func absPath(raw string) (string, error) {
	if raw == "~" || strings.HasPrefix(raw, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		raw = filepath.Join(home, strings.TrimPrefix(raw, "~"))
	}
	return filepath.Abs(raw)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return !errors.Is(err, os.ErrNotExist)
	}
	return !info.IsDir()
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
