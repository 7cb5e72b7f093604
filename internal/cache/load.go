package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/solstice035/health-analytics/internal/logging"
)

// Load 是 GetOrCompute 的类型化版本。缓存中的值若无法解码为 T（例如结构升级后的旧条目），
// 会失效该键并重算一次。
func Load[T any](ctx context.Context, c *Coordinator, key string, sources []string, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	fn := func(ctx context.Context) (any, error) {
		return compute(ctx)
	}

	raw, err := c.GetOrCompute(ctx, key, sources, fn)
	if err != nil {
		return zero, err
	}

	var out T
	decodeErr := json.Unmarshal(raw, &out)
	if decodeErr == nil {
		return out, nil
	}
	c.logger.WithFields(logging.CacheFields("cache_decode", key, true)).
		WithError(decodeErr).Warn("cached value does not match expected type, recomputing")

	if err := c.Invalidate(ctx, key); err != nil {
		return zero, fmt.Errorf("invalidate %q: %w", key, err)
	}
	raw, err = c.GetOrCompute(ctx, key, sources, fn)
	if err != nil {
		return zero, err
	}
	out = zero
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decode %q: %w", key, err)
	}
	return out, nil
}
