package config

import (
	"errors"

	"github.com/solstice035/health-analytics/internal/fingerprint"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("LogMaxSize/LogMaxBackups", "不能为负数")
	}

	s := c.Source
	if s.DataPath == "" {
		return newFieldError("DataPath", "不能为空")
	}
	if s.MaxRetries <= 0 {
		return newFieldError("MaxRetries", "必须大于 0")
	}
	if s.RetryDelay.DurationValue() <= 0 {
		return newFieldError("RetryDelay", "必须大于 0")
	}
	if s.RetryBackoff < 1 {
		return newFieldError("RetryBackoff", "不能小于 1")
	}
	if s.MaterializeTimeout.DurationValue() <= 0 {
		return newFieldError("MaterializeTimeout", "必须大于 0")
	}
	if s.PollInterval.DurationValue() <= 0 {
		return newFieldError("PollInterval", "必须大于 0")
	}
	if s.PollInterval.DurationValue() > s.MaterializeTimeout.DurationValue() {
		return newFieldError("PollInterval", "不能大于 MaterializeTimeout")
	}
	if s.MinFileBytes <= 0 {
		return newFieldError("MinFileBytes", "必须大于 0")
	}

	cc := c.Cache
	if cc.CacheDir == "" {
		return newFieldError("CacheDir", "不能为空")
	}
	if cc.CacheMaxAge.DurationValue() < 0 {
		return newFieldError("CacheMaxAge", "不能为负数")
	}
	if cc.CacheMaxSize < 0 {
		return newFieldError("CacheMaxSize", "不能为负数")
	}
	if _, err := fingerprint.ParseMode(cc.FingerprintMode); err != nil {
		return newFieldError("FingerprintMode", "仅支持 stat/content")
	}
	if cc.WarmDays <= 0 {
		return newFieldError("WarmDays", "必须大于 0")
	}
	if cc.WarmConcurrency <= 0 {
		return newFieldError("WarmConcurrency", "必须大于 0")
	}

	return nil
}

// Mode 返回已校验的指纹模式。
func (c CacheConfig) Mode() fingerprint.Mode {
	mode, err := fingerprint.ParseMode(c.FingerprintMode)
	if err != nil {
		return fingerprint.ModeStat
	}
	return mode
}
