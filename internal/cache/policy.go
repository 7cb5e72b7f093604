package cache

import (
	"time"

	"github.com/solstice035/health-analytics/internal/fingerprint"
)

// State 表示单个缓存键在一次查询时所处的状态。
type State string

const (
	StateAbsent  State = "absent"
	StateValid   State = "valid"
	StateStale   State = "stale"
	StateExpired State = "expired"
)

// validityPolicy 决定一个已存在的条目是否还能直接复用。
type validityPolicy struct {
	maxAge time.Duration
	now    func() time.Time
}

// classify 先比较指纹，再检查 maxAge；maxAge <= 0 表示永不过期。
func (p validityPolicy) classify(entry *Entry, current fingerprint.Fingerprint) State {
	if entry == nil {
		return StateAbsent
	}
	if entry.Fingerprint != current {
		return StateStale
	}
	if p.maxAge > 0 && p.now().Sub(entry.WrittenAt) > p.maxAge {
		return StateExpired
	}
	return StateValid
}
