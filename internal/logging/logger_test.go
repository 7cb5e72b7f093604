package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/solstice035/health-analytics/internal/config"
)

func TestInitLoggerDefaultsToConsole(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"}, nil)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件且未提供 console 时应输出到 stdout")
	}

	buf := &bytes.Buffer{}
	logger, err = InitLogger(config.GlobalConfig{LogLevel: "info"}, buf)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.WithFields(CacheFields("cache_lookup", "k", true)).Info("hit")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("日志应为 JSON: %v (%s)", err, buf.String())
	}
	if line["cache_key"] != "k" || line["action"] != "cache_lookup" {
		t.Fatalf("字段缺失: %v", line)
	}
}

func TestInitLoggerStderrPath(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "warn", LogFilePath: "stderr"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stderr {
		t.Fatalf("LogFilePath=stderr 时应输出到 stderr")
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "loud"}, nil); err == nil {
		t.Fatalf("未知日志级别应返回错误")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}

	console := &bytes.Buffer{}
	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "health-analytics.log"),
	}
	logger, err := InitLogger(cfg, console)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != console {
		t.Fatalf("fallback 时应退回 console")
	}
	if !bytes.Contains(console.Bytes(), []byte("logger_fallback")) {
		t.Fatalf("fallback 应记录 logger_fallback: %s", console.String())
	}
}

func TestInitLoggerCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "health-analytics.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg, nil)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatalf("nil logger 应回退到 discard logger")
	}
	logger := Discard()
	if OrDiscard(logger) != logger {
		t.Fatalf("非 nil logger 应原样返回")
	}
}
