package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/solstice035/health-analytics/internal/remotefile"
)

// WarmItem 描述一个需要预热的键。
type WarmItem struct {
	Key     string
	Sources []string
	// Prepare 可选，在计算指纹之前执行，例如先把占位文件下载到本地。
	Prepare func(ctx context.Context) error
	Compute ComputeFunc
}

// WarmFailure 记录单个键预热失败的原因。
type WarmFailure struct {
	Key         string `json:"key"`
	Error       string `json:"error"`
	Unavailable bool   `json:"unavailable"`
}

// WarmReport 汇总一次预热。
type WarmReport struct {
	RunID     string        `json:"run_id"`
	Requested int           `json:"requested"`
	Hits      int           `json:"hits"`
	Computed  int           `json:"computed"`
	Failed    []WarmFailure `json:"failed,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Warm 以有限并发对 items 执行 GetOrCompute。单个键失败（包括它自己的超时）
// 不会中止其它键；只有 ctx 被取消时才返回错误。
func (c *Coordinator) Warm(ctx context.Context, items []WarmItem) (WarmReport, error) {
	started := time.Now()
	report := WarmReport{
		RunID:     uuid.NewString(),
		Requested: len(items),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.warmLimit)

	for _, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var res resolution
			err := c.prepare(gctx, item)
			if err == nil {
				res, err = c.resolve(gctx, item.Key, item.Sources, item.Compute)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.hit:
				report.Hits++
			case err == nil:
				report.Computed++
			case gctx.Err() != nil:
				// 整批被取消；单个 compute 自身的超时仍按失败项记录。
				return gctx.Err()
			default:
				report.Failed = append(report.Failed, WarmFailure{
					Key:         item.Key,
					Error:       err.Error(),
					Unavailable: errors.Is(err, remotefile.ErrUnavailable),
				})
			}
			return nil
		})
	}

	err := g.Wait()
	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].Key < report.Failed[j].Key
	})
	report.Duration = time.Since(started)

	fields := logrus.Fields{
		"action":    "cache_warm",
		"run_id":    report.RunID,
		"requested": report.Requested,
		"hits":      report.Hits,
		"computed":  report.Computed,
		"failed":    len(report.Failed),
		"duration":  report.Duration.String(),
	}
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("cache warm interrupted")
		return report, err
	}
	c.logger.WithFields(fields).Info("cache warm finished")
	return report, nil
}

func (c *Coordinator) prepare(ctx context.Context, item WarmItem) error {
	if item.Prepare == nil {
		return nil
	}
	return item.Prepare(ctx)
}
