// Package fingerprint derives a stable identity for export files so the cache
// can tell whether a stored entry still describes the bytes on disk. Two reads
// of an unchanged file always produce the same Fingerprint; rewriting the file
// changes it (mtime/size in stat mode, content hash in content mode).
package fingerprint

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Mode 决定指纹的计算依据。
type Mode string

const (
	// ModeStat 只依赖 path + size + mtime，成本低，是默认模式。
	ModeStat Mode = "stat"
	// ModeContent 额外读取全部内容计算 xxhash，适合 mtime 不可靠的同步盘。
	ModeContent Mode = "content"
)

// Fingerprint 是形如 "stat:0123456789abcdef" 的不透明字符串。
type Fingerprint string

// None 表示没有任何源文件，条目只会因失效或过期而被替换。
const None Fingerprint = "none"

// ErrSourceMissing 表示源文件不存在。
var ErrSourceMissing = errors.New("source file missing")

func (f Fingerprint) String() string {
	return string(f)
}

// ParseMode 将配置值标准化为 Mode，空值回退到 ModeStat。
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeStat:
		return ModeStat, nil
	case ModeContent:
		return ModeContent, nil
	default:
		return "", fmt.Errorf("unsupported fingerprint mode: %s", raw)
	}
}

// Of 计算单个文件的指纹。文件不存在时返回可用 errors.Is 判断的 ErrSourceMissing。
func Of(path string, mode Mode) (Fingerprint, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve source path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSourceMissing, abs)
		}
		return "", fmt.Errorf("stat source %s: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source %s is a directory", abs)
	}

	h := xxhash.New()
	writeField(h, abs)
	writeField(h, strconv.FormatInt(info.Size(), 10))

	switch mode {
	case ModeContent:
		if err := hashContent(h, abs); err != nil {
			return "", err
		}
	default:
		mode = ModeStat
		writeField(h, strconv.FormatInt(info.ModTime().UnixNano(), 10))
	}

	return format(mode, h.Sum64()), nil
}

// Combine 将多个源文件合成一个指纹。路径会排序去重，因此调用方传入顺序无关。
func Combine(paths []string, mode Mode) (Fingerprint, error) {
	unique := normalize(paths)
	switch len(unique) {
	case 0:
		return None, nil
	case 1:
		return Of(unique[0], mode)
	}

	if mode != ModeContent {
		mode = ModeStat
	}
	h := xxhash.New()
	for _, p := range unique {
		fp, err := Of(p, mode)
		if err != nil {
			return "", err
		}
		writeField(h, string(fp))
	}
	return format(mode, h.Sum64()), nil
}

func normalize(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func hashContent(h *xxhash.Digest, path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from the caller's data directory
	if err != nil {
		return fmt.Errorf("open source %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash source %s: %w", path, err)
	}
	return nil
}

func writeField(h *xxhash.Digest, value string) {
	_, _ = h.WriteString(value)
	_, _ = h.Write([]byte{0})
}

func format(mode Mode, sum uint64) Fingerprint {
	return Fingerprint(fmt.Sprintf("%s:%016x", mode, sum))
}
