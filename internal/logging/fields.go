package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供缓存键与命中状态字段，供 coordinator 日志复用。
func CacheFields(action, key string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"cache_key": key,
		"cache_hit": cacheHit,
	}
}

// ReadFields 描述一次远端文件读取尝试。
func ReadFields(action, path string, attempt int) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"path":    path,
		"attempt": attempt,
	}
}

// Discard 返回丢弃所有输出的 logger，组件未注入 logger 时使用。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard 在 logger 为 nil 时回退到 Discard。
func OrDiscard(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
