package remotefile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Materialization 描述源文件当前在本地的下载状态。
type Materialization string

const (
	Materialized Materialization = "materialized"
	Placeholder  Materialization = "placeholder"
	Downloading  Materialization = "downloading"
	Unknown      Materialization = "unknown"
)

// State 是一次 Inspect 观察到的源文件快照。
type State struct {
	Path            string          `json:"path"`
	Size            int64           `json:"size"`
	ModTime         time.Time       `json:"mod_time"`
	Materialization Materialization `json:"materialization"`
	// Stub 为 iCloud 驱逐文件后留下的 ".<name>.icloud" 路径。
	Stub string `json:"stub,omitempty"`
}

// StubPath 返回 iCloud 为 path 生成的占位 stub 路径。
func StubPath(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "."+base+".icloud")
}

// Inspect 对 path 做一次状态判定：
//   - 文件与 stub 都不存在：返回包装 fs.ErrNotExist 的错误；
//   - 仅 stub 存在或 size < MinBytes：Placeholder；
//   - 打开读取首字节时遇到短暂锁错误：Downloading；
//   - 其它读取错误：Unknown 并返回该错误；
//   - 否则 Materialized。
func (r *Reader) Inspect(path string) (State, error) {
	state := State{Path: path, Materialization: Unknown}

	info, err := r.stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return state, fmt.Errorf("stat %s: %w", path, err)
		}
		stub := StubPath(path)
		if _, stubErr := r.stat(stub); stubErr == nil {
			state.Stub = stub
			state.Materialization = Placeholder
			return state, nil
		}
		return state, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	if info.IsDir() {
		return state, fmt.Errorf("%s is a directory", path)
	}

	state.Size = info.Size()
	state.ModTime = info.ModTime()

	if state.Size < r.opts.MinBytes {
		state.Materialization = Placeholder
		return state, nil
	}

	if err := r.probe(path); err != nil {
		if IsTransient(err) {
			state.Materialization = Downloading
			return state, nil
		}
		return state, err
	}

	state.Materialization = Materialized
	return state, nil
}

// probeFile 打开文件并读取一个字节，确认没有被同步进程锁定。
func probeFile(path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from the caller's data directory
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // read-only handle

	buf := make([]byte, 1)
	if _, err := f.Read(buf); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
