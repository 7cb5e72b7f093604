package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// String 以 Go Duration 格式输出，check-config 打印配置时使用。
func (d Duration) String() string {
	return time.Duration(d).String()
}

// GlobalConfig 描述进程级行为：HTTP 端口与日志输出。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// SourceConfig 控制导出文件的位置以及读取远端文件时的物化与重试预算。
type SourceConfig struct {
	DataPath           string   `mapstructure:"DataPath"`
	MaxRetries         int      `mapstructure:"MaxRetries"`
	RetryDelay         Duration `mapstructure:"RetryDelay"`
	RetryBackoff       float64  `mapstructure:"RetryBackoff"`
	MaterializeTimeout Duration `mapstructure:"MaterializeTimeout"`
	PollInterval       Duration `mapstructure:"PollInterval"`
	MinFileBytes       int64    `mapstructure:"MinFileBytes"`
	MaterializeCommand string   `mapstructure:"MaterializeCommand"`
}

// CacheConfig 决定缓存目录、有效期与预热行为。
type CacheConfig struct {
	CacheDir        string   `mapstructure:"CacheDir"`
	CacheMaxAge     Duration `mapstructure:"CacheMaxAge"`
	CacheMaxSize    int64    `mapstructure:"CacheMaxSize"`
	FingerprintMode string   `mapstructure:"FingerprintMode"`
	WarmDays        int      `mapstructure:"WarmDays"`
	WarmConcurrency int      `mapstructure:"WarmConcurrency"`
}

// Config 是 TOML 文件与环境变量合并后的整体结构，所有键都位于顶层。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Source SourceConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:",squash"`

	// File 记录实际读取的配置文件；仅使用默认值与环境变量时为空。
	File string `mapstructure:"-"`
}
