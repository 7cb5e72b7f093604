package remotefile

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// ListAvailable 列出 dir 下匹配 pattern 的文件。占位文件（含 .icloud stub）
// 会被触发物化但不等待，返回值只包含当前即可读取的文件。
func (r *Reader) ListAvailable(ctx context.Context, dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	stubs, err := filepath.Glob(filepath.Join(dir, "."+pattern+".icloud"))
	if err != nil {
		return nil, fmt.Errorf("glob stubs %s: %w", pattern, err)
	}
	for _, stub := range stubs {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(stub), "."), ".icloud")
		r.requestMaterialize(ctx, filepath.Join(dir, name))
	}

	sort.Strings(matches)
	available := make([]string, 0, len(matches))
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return available, err
		}
		state, err := r.Inspect(path)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"action": "list_available",
				"path":   path,
			}).WithError(err).Debug("skip unreadable file")
			continue
		}
		switch state.Materialization {
		case Materialized:
			available = append(available, path)
		case Placeholder, Downloading:
			r.requestMaterialize(ctx, path)
		}
	}
	return available, nil
}
