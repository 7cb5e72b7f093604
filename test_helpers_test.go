package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

var repoRoot string

func init() {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			repoRoot = dir
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func projectRoot(t *testing.T) string {
	t.Helper()
	if repoRoot == "" {
		t.Fatal("无法定位项目根目录")
	}
	return repoRoot
}

// useBufferWriters 在测试期间将 stdOut/stdErr 替换为内存 buffer。
func useBufferWriters(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = outBuf, errBuf

	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return outBuf, errBuf
}

// isolateEnv 清除会影响配置加载的环境变量，并切换到临时工作目录。
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"HEALTH_ANALYTICS_CONFIG",
		"HEALTH_DATA_PATH",
		"HEALTH_ANALYTICS_CACHE_DIR",
		"HEALTH_ANALYTICS_LOG_FILE",
		"HEALTH_ANALYTICS_LOG_LEVEL",
		"HEALTH_ANALYTICS_MATERIALIZE_COMMAND",
		"HEALTH_ANALYTICS_FINGERPRINT",
	} {
		t.Setenv(env, "")
	}
	t.Chdir(t.TempDir())
}

type workspace struct {
	dataDir    string
	cacheDir   string
	configPath string
}

// newWorkspace 创建数据目录、缓存目录与指向它们的配置文件。
// 物化命令被禁用，重试间隔压到最小以保持测试快速。
func newWorkspace(t *testing.T, extra string) workspace {
	t.Helper()
	isolateEnv(t)

	root := t.TempDir()
	ws := workspace{
		dataDir:  filepath.Join(root, "data"),
		cacheDir: filepath.Join(root, "cache"),
	}
	if err := os.MkdirAll(ws.dataDir, 0o755); err != nil {
		t.Fatalf("创建数据目录失败: %v", err)
	}
	ws.configPath = writeConfigFile(t, fmt.Sprintf(`
DataPath = %q
CacheDir = %q
MaterializeCommand = ""
MaxRetries = 2
RetryDelay = "1ms"
MaterializeTimeout = "20ms"
PollInterval = "5ms"
%s
`, ws.dataDir, ws.cacheDir, extra))
	return ws
}

// addFixtureDay 把 healthdata 的样例导出复制到数据目录。
func (ws workspace) addFixtureDay(t *testing.T) {
	t.Helper()
	name := "HealthAutoExport-2025-01-15.json"
	raw, err := os.ReadFile(filepath.Join(projectRoot(t), "internal", "healthdata", "testdata", name))
	if err != nil {
		t.Fatalf("读取样例失败: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.dataDir, name), raw, 0o644); err != nil {
		t.Fatalf("写入样例失败: %v", err)
	}
}

func (ws workspace) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	out, errOut := useBufferWriters(t)
	code := run(context.Background(), append([]string{"--config", ws.configPath}, args...))
	return code, out.String(), errOut.String()
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "health-analytics.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
