package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/solstice035/health-analytics/internal/fingerprint"
	"github.com/solstice035/health-analytics/internal/logging"
	"github.com/solstice035/health-analytics/internal/remotefile"
)

// ComputeFunc 在未命中时产出新值；返回的错误原样传给 GetOrCompute 的调用方。
type ComputeFunc func(ctx context.Context) (any, error)

// CoordinatorOptions 控制 Coordinator 的行为，零值即可使用。
type CoordinatorOptions struct {
	Logger *logrus.Logger
	// Counters 为空时自动创建；传入同一指针可让多个组件共享统计。
	Counters        *Counters
	FingerprintMode fingerprint.Mode
	// MaxAge > 0 时，写入超过该时长的条目即使指纹一致也会重算。
	MaxAge time.Duration
	// MaxSizeBytes > 0 时，每次写入后按最早写入优先淘汰。
	MaxSizeBytes    int64
	WarmConcurrency int
	Now             func() time.Time
}

const defaultWarmConcurrency = 4

// Coordinator 组合 fingerprint 与 Store，对外提供 get-or-compute 语义。
type Coordinator struct {
	store     Store
	logger    *logrus.Logger
	counters  *Counters
	mode      fingerprint.Mode
	policy    validityPolicy
	maxSize   int64
	warmLimit int

	group singleflight.Group
}

// SourceUnavailableError 表示源文件缺失或无法计算指纹，compute 不会被调用。
type SourceUnavailableError struct {
	Key     string
	Sources []string
	Err     error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("cache %q: source unavailable (%s): %v", e.Key, strings.Join(e.Sources, ", "), e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// Is 使批处理调用方可以统一用 remotefile.ErrUnavailable 识别缺口。
func (e *SourceUnavailableError) Is(target error) bool {
	return target == remotefile.ErrUnavailable
}

// NewCoordinator 基于 store 构建 Coordinator。
func NewCoordinator(store Store, opts CoordinatorOptions) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}

	counters := opts.Counters
	if counters == nil {
		counters = NewCounters()
	}
	mode := opts.FingerprintMode
	if mode == "" {
		mode = fingerprint.ModeStat
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limit := opts.WarmConcurrency
	if limit <= 0 {
		limit = defaultWarmConcurrency
	}

	return &Coordinator{
		store:     store,
		logger:    logging.OrDiscard(opts.Logger),
		counters:  counters,
		mode:      mode,
		policy:    validityPolicy{maxAge: opts.MaxAge, now: now},
		maxSize:   opts.MaxSizeBytes,
		warmLimit: limit,
	}, nil
}

// Counters 返回 Coordinator 持有的计数器。
func (c *Coordinator) Counters() *Counters {
	return c.counters
}

// Store 返回底层存储。
func (c *Coordinator) Store() Store {
	return c.store
}

// GetOrCompute 返回 key 对应的值：源文件指纹与存储一致且未过期时直接复用，
// 否则调用 compute 并以当前指纹写回。同一进程内同键并发未命中会合并为一次 compute。
func (c *Coordinator) GetOrCompute(ctx context.Context, key string, sources []string, compute ComputeFunc) (json.RawMessage, error) {
	res, err := c.resolve(ctx, key, sources, compute)
	if err != nil {
		return nil, err
	}
	return res.value, nil
}

type resolution struct {
	value json.RawMessage
	hit   bool
}

func (c *Coordinator) resolve(ctx context.Context, key string, sources []string, compute ComputeFunc) (resolution, error) {
	if key == "" {
		return resolution{}, ErrInvalidKey
	}
	if compute == nil {
		return resolution{}, errors.New("compute function is required")
	}

	current, err := fingerprint.Combine(sources, c.mode)
	if err != nil {
		return resolution{}, &SourceUnavailableError{Key: key, Sources: sources, Err: err}
	}

	value, err, shared := c.group.Do(key+"\x00"+string(current), func() (any, error) {
		return c.getOrCompute(ctx, key, sources, current, compute)
	})
	if err != nil {
		// 共享的调用被发起者的 ctx 取消时，ctx 仍有效的跟随者自行计算一次。
		if shared && isContextErr(err) && ctx.Err() == nil {
			return c.getOrCompute(ctx, key, sources, current, compute)
		}
		return resolution{}, err
	}
	res := value.(resolution)
	if shared {
		res.value = append(json.RawMessage(nil), res.value...)
	}
	return res, nil
}

func (c *Coordinator) getOrCompute(ctx context.Context, key string, sources []string, current fingerprint.Fingerprint, compute ComputeFunc) (resolution, error) {
	entry, state := c.lookup(ctx, key, current)
	if state == StateValid {
		c.counters.hits.Add(1)
		c.logger.WithFields(logging.CacheFields("cache_lookup", key, true)).Debug("cache hit")
		return resolution{value: entry.Value, hit: true}, nil
	}

	c.counters.misses.Add(1)
	switch state {
	case StateStale:
		c.counters.stale.Add(1)
	case StateExpired:
		c.counters.expired.Add(1)
	}
	c.logger.WithFields(logging.CacheFields("cache_lookup", key, false)).
		WithField("state", string(state)).
		Debug("cache miss")

	value, err := compute(ctx)
	if err != nil {
		return resolution{}, err
	}

	raw, err := encodeValue(value)
	if err != nil {
		return resolution{}, fmt.Errorf("encode value for %q: %w", key, err)
	}

	if _, err := c.store.Put(ctx, key, raw, PutOptions{Fingerprint: current, SourcePaths: sources}); err != nil {
		c.counters.storeErrors.Add(1)
		c.logger.WithFields(logging.CacheFields("cache_put", key, false)).
			WithError(err).Warn("cache write failed, serving computed value")
		return resolution{value: raw}, nil
	}
	c.enforceLimit(ctx)
	return resolution{value: raw}, nil
}

// lookup 读取存储并判定状态；任何存储错误都降级为 StateAbsent，损坏条目顺便删除。
func (c *Coordinator) lookup(ctx context.Context, key string, current fingerprint.Fingerprint) (*Entry, State) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		var corrupt *CorruptEntryError
		switch {
		case errors.As(err, &corrupt):
			c.counters.storeErrors.Add(1)
			c.logger.WithFields(logging.CacheFields("cache_lookup", key, false)).
				WithField("file", corrupt.FilePath).
				WithError(corrupt.Err).Warn("corrupt cache entry, recomputing")
			if rmErr := c.store.Remove(ctx, key); rmErr != nil {
				c.logger.WithFields(logging.CacheFields("cache_remove", key, false)).
					WithError(rmErr).Debug("remove corrupt entry failed")
			}
		case !errors.Is(err, ErrNotFound):
			c.counters.storeErrors.Add(1)
			c.logger.WithFields(logging.CacheFields("cache_lookup", key, false)).
				WithError(err).Warn("cache read failed, treating as miss")
		}
		return nil, StateAbsent
	}
	return entry, c.policy.classify(entry, current)
}

// Lookup 是 Peek 的结果。
type Lookup struct {
	Key         string                  `json:"key"`
	State       State                   `json:"state"`
	Current     fingerprint.Fingerprint `json:"current_fingerprint"`
	Stored      fingerprint.Fingerprint `json:"stored_fingerprint,omitempty"`
	WrittenAt   time.Time               `json:"written_at,omitempty"`
	SourcePaths []string                `json:"source_paths,omitempty"`
}

// Peek 报告 key 当前的状态但不触发计算，也不计入命中统计。
func (c *Coordinator) Peek(ctx context.Context, key string, sources []string) (Lookup, error) {
	if key == "" {
		return Lookup{}, ErrInvalidKey
	}
	current, err := fingerprint.Combine(sources, c.mode)
	if err != nil {
		return Lookup{Key: key, State: StateAbsent}, &SourceUnavailableError{Key: key, Sources: sources, Err: err}
	}

	result := Lookup{Key: key, Current: current}
	entry, state := c.lookup(ctx, key, current)
	result.State = state
	if entry != nil {
		result.Stored = entry.Fingerprint
		result.WrittenAt = entry.WrittenAt
		result.SourcePaths = entry.SourcePaths
	}
	return result, nil
}

// Invalidate 删除单个条目；条目不存在时同样返回 nil。
func (c *Coordinator) Invalidate(ctx context.Context, key string) error {
	if err := c.store.Remove(ctx, key); err != nil {
		return err
	}
	c.counters.invalidations.Add(1)
	c.logger.WithFields(logging.CacheFields("cache_invalidate", key, false)).Info("cache entry invalidated")
	return nil
}

// InvalidateAll 清空整个缓存目录，返回删除的条目数。
func (c *Coordinator) InvalidateAll(ctx context.Context) (int, error) {
	removed, err := c.store.RemoveAll(ctx)
	c.counters.invalidations.Add(int64(removed))
	if err != nil {
		return removed, err
	}
	c.logger.WithFields(logrus.Fields{
		"action":  "cache_clear",
		"removed": removed,
	}).Info("cache cleared")
	return removed, nil
}

// Stats 是可直接序列化输出的缓存统计。
type Stats struct {
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"size_bytes"`
	SizeMB    float64 `json:"total_size_mb"`
	CounterSnapshot
	HitRate  float64 `json:"hit_rate"`
	CacheDir string  `json:"cache_dir"`
}

// Stats 汇总磁盘占用与进程内计数；读取目录失败时只返回计数部分。
func (c *Coordinator) Stats(ctx context.Context) Stats {
	snapshot := c.counters.Snapshot()
	stats := Stats{
		CounterSnapshot: snapshot,
		HitRate:         snapshot.HitRate(),
		CacheDir:        c.store.Dir(),
	}

	usage, err := c.store.Usage(ctx)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"action": "cache_stats"}).WithError(err).Warn("read cache usage failed")
		return stats
	}
	stats.Entries = usage.Entries
	stats.SizeBytes = usage.SizeBytes
	stats.SizeMB = roundTo(float64(usage.SizeBytes)/(1024*1024), 2)
	return stats
}

func (c *Coordinator) enforceLimit(ctx context.Context) {
	if c.maxSize <= 0 {
		return
	}
	removed, err := c.store.Prune(ctx, c.maxSize)
	if err != nil {
		c.counters.storeErrors.Add(1)
		c.logger.WithFields(logrus.Fields{"action": "cache_prune"}).WithError(err).Warn("cache prune failed")
		return
	}
	if removed > 0 {
		c.logger.WithFields(logrus.Fields{
			"action":    "cache_prune",
			"removed":   removed,
			"max_bytes": c.maxSize,
		}).Info("evicted least recently written entries")
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func encodeValue(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("raw value is not valid JSON")
		}
		return v, nil
	default:
		return json.Marshal(value)
	}
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
