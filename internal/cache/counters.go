package cache

import "sync/atomic"

// Counters 记录进程内的命中统计。每个 Coordinator 持有一份，需要展示统计的组件
// 通过指针共享；计数只用于观测，进程重启后归零。
type Counters struct {
	hits          atomic.Int64
	misses        atomic.Int64
	stale         atomic.Int64
	expired       atomic.Int64
	invalidations atomic.Int64
	storeErrors   atomic.Int64
}

// CounterSnapshot 是 Counters 在某一时刻的只读拷贝。
type CounterSnapshot struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Stale         int64 `json:"stale"`
	Expired       int64 `json:"expired"`
	Invalidations int64 `json:"invalidations"`
	StoreErrors   int64 `json:"store_errors"`
}

// NewCounters 返回归零的计数器。
func NewCounters() *Counters {
	return &Counters{}
}

// Snapshot 读取当前计数。
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Stale:         c.stale.Load(),
		Expired:       c.expired.Load(),
		Invalidations: c.invalidations.Load(),
		StoreErrors:   c.storeErrors.Load(),
	}
}

// Reset 将所有计数归零。
func (c *Counters) Reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.stale.Store(0)
	c.expired.Store(0)
	c.invalidations.Store(0)
	c.storeErrors.Store(0)
}

// HitRate 返回命中率百分比，保留一位小数；没有请求时为 0。
func (s CounterSnapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return roundTo(float64(s.Hits)/float64(total)*100, 1)
}
