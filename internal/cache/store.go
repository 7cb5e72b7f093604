package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/solstice035/health-analytics/internal/fingerprint"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<CacheDir>/<sanitized key>_<sha256(key)[:16]>.json    # 单个 JSON 信封
//
// 每个条目独立成文件，损坏或删除一个条目不会影响其它条目。
// Store 只返回存入的内容与指纹，是否仍然有效由 Coordinator 判断。
type Store interface {
	// Get 返回缓存条目。不存在返回 ErrNotFound；无法读取或格式错误返回
	// *CorruptEntryError，同样满足 errors.Is(err, ErrNotFound)。
	Get(ctx context.Context, key string) (*Entry, error)

	// Put 以临时文件 + rename 原子写入条目，覆盖同键旧值。
	Put(ctx context.Context, key string, value json.RawMessage, opts PutOptions) (*Entry, error)

	// Remove 删除单个条目，条目不存在时不报错。
	Remove(ctx context.Context, key string) error

	// RemoveAll 清空缓存目录中的全部条目，返回删除数量。
	RemoveAll(ctx context.Context) (int, error)

	// Keys 返回所有可解析条目的键，按字典序排列。
	Keys(ctx context.Context) ([]string, error)

	// Usage 汇总条目数量与磁盘占用。
	Usage(ctx context.Context) (Usage, error)

	// Prune 按最早写入优先淘汰条目，直到总大小不超过 maxBytes。maxBytes <= 0 时不做处理。
	Prune(ctx context.Context, maxBytes int64) (int, error)

	// Dir 返回缓存根目录的绝对路径。
	Dir() string
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	Fingerprint fingerprint.Fingerprint
	SourcePaths []string
	// WrittenAt 为空时使用当前时间。
	WrittenAt time.Time
}

// Entry 表示一个已持久化的缓存条目。
type Entry struct {
	Key         string                  `json:"key"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	WrittenAt   time.Time               `json:"written_at"`
	SourcePaths []string                `json:"source_paths,omitempty"`
	Value       json.RawMessage         `json:"value"`

	FilePath  string `json:"-"`
	SizeBytes int64  `json:"-"`
}

// Usage 描述缓存目录的占用情况。
type Usage struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")

	// ErrInvalidKey 表示缓存键为空。
	ErrInvalidKey = errors.New("cache key required")
)

// CorruptEntryError 表示条目文件存在但无法读取或解析，调用方应按未命中处理。
type CorruptEntryError struct {
	Key      string
	FilePath string
	Err      error
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("corrupt cache entry %q (%s): %v", e.Key, e.FilePath, e.Err)
}

func (e *CorruptEntryError) Unwrap() error {
	return e.Err
}

// Is 让损坏条目与 ErrNotFound 同样被视为未命中。
func (e *CorruptEntryError) Is(target error) bool {
	return target == ErrNotFound
}
