package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/solstice035/health-analytics/internal/fingerprint"
)

const (
	entrySuffix     = ".json"
	envelopeVersion = 1
	maxPrefixLen    = 32
)

// NewStore 以 basePath 为根目录构建磁盘缓存，目录已存在时直接复用。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStore 通过 entryLock 避免同一进程内同键并发写入；跨进程依赖 rename 的最后写入者胜出。
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// envelope 是条目文件的磁盘格式。
type envelope struct {
	Version     int                     `json:"version"`
	Key         string                  `json:"key"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	WrittenAt   time.Time               `json:"written_at"`
	SourcePaths []string                `json:"source_paths,omitempty"`
	Value       json.RawMessage         `json:"value"`
}

func (s *fileStore) Dir() string {
	return s.basePath
}

func (s *fileStore) Get(ctx context.Context, key string) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &CorruptEntryError{Key: key, FilePath: filePath, Err: err}
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	//nolint:gosec // path is derived from the hashed key under basePath
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &CorruptEntryError{Key: key, FilePath: filePath, Err: err}
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, &CorruptEntryError{Key: key, FilePath: filePath, Err: err}
	}
	if env.Key != key {
		return nil, &CorruptEntryError{Key: key, FilePath: filePath, Err: fmt.Errorf("stored key %q does not match", env.Key)}
	}

	return env.entry(filePath, int64(len(data))), nil
}

func (s *fileStore) Put(ctx context.Context, key string, value json.RawMessage, opts PutOptions) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("cache value for %q is not valid JSON", key)
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	writtenAt := opts.WrittenAt
	if writtenAt.IsZero() {
		writtenAt = s.now()
	}
	writtenAt = writtenAt.UTC()

	env := envelope{
		Version:     envelopeVersion,
		Key:         key,
		Fingerprint: opts.Fingerprint,
		WrittenAt:   writtenAt,
		SourcePaths: append([]string(nil), opts.SourcePaths...),
		Value:       value,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}
	if err := atomic.WriteFile(filePath, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("write cache entry: %w", err)
	}
	// 文件 mtime 与写入时间一致，Prune 可直接按 mtime 排序而无需解析条目。
	if err := os.Chtimes(filePath, writtenAt, writtenAt); err != nil {
		return nil, err
	}

	return env.entry(filePath, int64(len(data))), nil
}

func (s *fileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) RemoveAll(ctx context.Context) (int, error) {
	files, err := s.entryFiles(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if err := os.Remove(f.path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	files, err := s.entryFiles(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			continue
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			continue
		}
		keys = append(keys, env.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *fileStore) Usage(ctx context.Context) (Usage, error) {
	files, err := s.entryFiles(ctx)
	if err != nil {
		return Usage{}, err
	}

	usage := Usage{Entries: len(files)}
	for _, f := range files {
		usage.SizeBytes += f.size
	}
	return usage, nil
}

func (s *fileStore) Prune(ctx context.Context, maxBytes int64) (int, error) {
	if maxBytes <= 0 {
		return 0, nil
	}
	files, err := s.entryFiles(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= maxBytes {
		return 0, nil
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	removed := 0
	for _, f := range files {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		total -= f.size
		removed++
	}
	return removed, nil
}

type entryFile struct {
	path    string
	size    int64
	modTime time.Time
}

// entryFiles 列出缓存目录下的条目文件，忽略子目录、隐藏文件与 atomic 写入遗留的临时文件。
func (s *fileStore) entryFiles(ctx context.Context) ([]entryFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list cache dir: %w", err)
	}

	files := make([]entryFile, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, entrySuffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, entryFile{
			path:    filepath.Join(s.basePath, name),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// entryPath 由缓存键直接推导文件路径，Get/Put 无需扫描目录。
func (s *fileStore) entryPath(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.basePath, entryFileName(key)), nil
}

func entryFileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return sanitizeKey(key) + "_" + hex.EncodeToString(sum[:])[:16] + entrySuffix
}

// sanitizeKey 保留可读前缀，便于人工排查缓存目录。
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if b.Len() >= maxPrefixLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, err
	}
	if env.Version != envelopeVersion {
		return env, fmt.Errorf("unsupported entry version %d", env.Version)
	}
	if env.Key == "" {
		return env, errors.New("entry key missing")
	}
	if len(env.Value) == 0 {
		return env, errors.New("entry value missing")
	}
	return env, nil
}

func (e envelope) entry(filePath string, size int64) *Entry {
	return &Entry{
		Key:         e.Key,
		Fingerprint: e.Fingerprint,
		WrittenAt:   e.WrittenAt,
		SourcePaths: e.SourcePaths,
		Value:       e.Value,
		FilePath:    filePath,
		SizeBytes:   size,
	}
}
