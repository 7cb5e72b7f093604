package remotefile

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Materializer 请求后端存储把占位文件下载到本地，调用不等待下载完成。
type Materializer interface {
	Materialize(ctx context.Context, path string) error
}

// MaterializerFunc 让普通函数满足 Materializer，便于测试注入。
type MaterializerFunc func(ctx context.Context, path string) error

// Materialize makes MaterializerFunc satisfy Materializer.
func (f MaterializerFunc) Materialize(ctx context.Context, path string) error {
	return f(ctx, path)
}

// NopMaterializer 用于非 iCloud 的普通目录。
type NopMaterializer struct{}

// Materialize does nothing.
func (NopMaterializer) Materialize(context.Context, string) error {
	return nil
}

// CommandMaterializer 通过 `<Command> download <path>`（默认 brctl）触发下载。
type CommandMaterializer struct {
	Command string
}

// NewCommandMaterializer 返回命令型 Materializer；command 为空时退化为 NopMaterializer。
func NewCommandMaterializer(command string) Materializer {
	command = strings.TrimSpace(command)
	if command == "" {
		return NopMaterializer{}
	}
	return CommandMaterializer{Command: command}
}

// Materialize runs the download command and discards its output.
func (m CommandMaterializer) Materialize(ctx context.Context, path string) error {
	//nolint:gosec // command comes from trusted configuration
	cmd := exec.CommandContext(ctx, m.Command, "download", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s download %s: %w (%s)", m.Command, path, err, strings.TrimSpace(string(out)))
	}
	return nil
}
