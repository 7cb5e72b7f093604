package healthdata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solstice035/health-analytics/internal/cache"
	"github.com/solstice035/health-analytics/internal/logging"
	"github.com/solstice035/health-analytics/internal/remotefile"
)

// Repository 通过 Reader 读取每日导出文件，并借助 Coordinator 缓存解析与汇总结果。
type Repository struct {
	DataDir     string
	Reader      *remotefile.Reader
	Coordinator *cache.Coordinator
	Logger      *logrus.Logger
}

// NewRepository 组装 Repository，三个依赖均为必填。
func NewRepository(dataDir string, reader *remotefile.Reader, coord *cache.Coordinator, logger *logrus.Logger) (*Repository, error) {
	if dataDir == "" {
		return nil, errors.New("data dir required")
	}
	if reader == nil || coord == nil {
		return nil, errors.New("reader and coordinator are required")
	}
	return &Repository{
		DataDir:     dataDir,
		Reader:      reader,
		Coordinator: coord,
		Logger:      logging.OrDiscard(logger),
	}, nil
}

// DayPath 返回某天导出文件的绝对路径。
func (r *Repository) DayPath(date time.Time) string {
	return filepath.Join(r.DataDir, DailyFileName(date))
}

// DayKey 是原始导出的缓存键。
func DayKey(date time.Time) string {
	return "json_" + DailyFileName(date)
}

// SummaryKey 是每日汇总的缓存键。
func SummaryKey(date time.Time) string {
	return date.Format(DateLayout) + "-summary"
}

// LoadDay 返回某天解析后的导出数据。文件缺失或无法物化时返回满足
// errors.Is(err, remotefile.ErrUnavailable) 的错误。
func (r *Repository) LoadDay(ctx context.Context, date time.Time) (*Export, error) {
	path := r.DayPath(date)
	if err := r.prepare(ctx, path); err != nil {
		return nil, err
	}

	export, err := cache.Load(ctx, r.Coordinator, DayKey(date), []string{path}, func(ctx context.Context) (Export, error) {
		return r.readDay(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return &export, nil
}

// SummarizeDay 返回某天的汇总，源文件未变化时直接使用缓存。
func (r *Repository) SummarizeDay(ctx context.Context, date time.Time) (*Summary, error) {
	path := r.DayPath(date)
	if err := r.prepare(ctx, path); err != nil {
		return nil, err
	}

	summary, err := cache.Load(ctx, r.Coordinator, SummaryKey(date), []string{path}, r.summarizeFunc(date))
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (r *Repository) summarizeFunc(date time.Time) func(ctx context.Context) (Summary, error) {
	return func(ctx context.Context) (Summary, error) {
		export, err := r.LoadDay(ctx, date)
		if err != nil {
			return Summary{}, err
		}
		return Summarize(date, export), nil
	}
}

func (r *Repository) readDay(ctx context.Context, path string) (Export, error) {
	var export Export
	res := r.Reader.ReadInto(ctx, path, &export)
	if err := res.AsError(); err != nil {
		return Export{}, err
	}
	r.Logger.WithFields(logging.ReadFields("read_export", path, res.Attempts)).
		WithField("metrics", len(export.Data.Metrics)).
		Debug("export parsed")
	return export, nil
}

// prepare 在计算指纹之前确保文件已下载，避免把占位文件的指纹写入缓存。
func (r *Repository) prepare(ctx context.Context, path string) error {
	state, err := r.Reader.Inspect(path)
	if err == nil && state.Materialization == remotefile.Materialized {
		return nil
	}
	if err != nil {
		return &remotefile.UnavailableError{Path: path, Status: remotefile.StatusUnavailable, Err: err}
	}

	if _, _, err := r.Reader.Materialize(ctx, path); err != nil {
		status := remotefile.StatusUnavailable
		if ctx.Err() != nil {
			status = remotefile.StatusRetryExhausted
		}
		return &remotefile.UnavailableError{Path: path, Status: status, Err: err}
	}
	return nil
}

// Gap 描述区间中缺失的一天。
type Gap struct {
	Date   string `json:"date"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RangeResult 是 LoadRange 的结果，Summaries 按日期从旧到新排列。
type RangeResult struct {
	Start     string    `json:"start"`
	End       string    `json:"end"`
	Summaries []Summary `json:"summaries"`
	Gaps      []Gap     `json:"gaps,omitempty"`
}

// LoadRange 汇总以 end 结尾的 days 天。不可用的文件记为 Gap 并跳过；
// 其它错误（包括 ctx 取消）会终止并返回已完成的部分。
func (r *Repository) LoadRange(ctx context.Context, end time.Time, days int) (RangeResult, error) {
	dates := DateRange(end, days)
	result := RangeResult{}
	if len(dates) == 0 {
		return result, nil
	}
	result.Start = dates[0].Format(DateLayout)
	result.End = dates[len(dates)-1].Format(DateLayout)

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		summary, err := r.SummarizeDay(ctx, date)
		switch {
		case err == nil:
			result.Summaries = append(result.Summaries, *summary)
		case isContextErr(err):
			return result, err
		case errors.Is(err, remotefile.ErrUnavailable):
			result.Gaps = append(result.Gaps, Gap{
				Date:   date.Format(DateLayout),
				Path:   r.DayPath(date),
				Reason: err.Error(),
			})
		default:
			return result, fmt.Errorf("summarize %s: %w", date.Format(DateLayout), err)
		}
	}

	if len(result.Gaps) > 0 {
		r.Logger.WithFields(logrus.Fields{
			"action": "load_range",
			"start":  result.Start,
			"end":    result.End,
			"gaps":   len(result.Gaps),
		}).Info("range loaded with gaps")
	}
	return result, nil
}

// WarmPlan 返回 days 天内每日汇总的预热项。占位文件会在计算指纹前先物化。
func (r *Repository) WarmPlan(end time.Time, days int) []cache.WarmItem {
	dates := DateRange(end, days)
	items := make([]cache.WarmItem, 0, len(dates))
	for _, date := range dates {
		summarize := r.summarizeFunc(date)
		path := r.DayPath(date)
		items = append(items, cache.WarmItem{
			Key:     SummaryKey(date),
			Sources: []string{path},
			Prepare: func(ctx context.Context) error {
				return r.prepare(ctx, path)
			},
			Compute: func(ctx context.Context) (any, error) {
				return summarize(ctx)
			},
		})
	}
	return items
}

// WarmRecent 先为数据目录中的占位文件发起物化请求，再预热 days 天的汇总。
func (r *Repository) WarmRecent(ctx context.Context, end time.Time, days int) (cache.WarmReport, error) {
	if _, err := r.Reader.ListAvailable(ctx, r.DataDir, FilePattern); err != nil {
		r.Logger.WithFields(logrus.Fields{
			"action": "cache_warm",
			"dir":    r.DataDir,
		}).WithError(err).Warn("list data dir failed")
	}
	return r.Coordinator.Warm(ctx, r.WarmPlan(end, days))
}

// RefreshDay 在源文件变化后重新生成当天汇总。
func (r *Repository) RefreshDay(ctx context.Context, date time.Time) error {
	_, err := r.SummarizeDay(ctx, date)
	return err
}

// DayStatus 报告一天的文件状态与缓存状态。
type DayStatus struct {
	Date   string           `json:"date"`
	Path   string           `json:"path"`
	Exists bool             `json:"exists"`
	File   remotefile.State `json:"file"`
	Cache  cache.Lookup     `json:"cache"`
	Error  string           `json:"error,omitempty"`
}

// Status 只观察，不触发物化也不计算汇总。
func (r *Repository) Status(ctx context.Context, date time.Time) (DayStatus, error) {
	path := r.DayPath(date)
	status := DayStatus{Date: date.Format(DateLayout), Path: path}

	state, err := r.Reader.Inspect(path)
	status.File = state
	switch {
	case err == nil:
		status.Exists = true
	case errors.Is(err, fs.ErrNotExist):
		status.Error = "file not found"
		return status, nil
	default:
		status.Exists = true
		status.Error = err.Error()
	}

	lookup, err := r.Coordinator.Peek(ctx, SummaryKey(date), []string{path})
	if err != nil && !errors.Is(err, remotefile.ErrUnavailable) {
		return status, err
	}
	status.Cache = lookup
	return status, nil
}

// AvailableDates 返回数据目录中当前可读的导出日期，从旧到新排列。
func (r *Repository) AvailableDates(ctx context.Context) ([]time.Time, error) {
	paths, err := r.Reader.ListAvailable(ctx, r.DataDir, FilePattern)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, 0, len(paths))
	for _, p := range paths {
		if date, ok := DateFromFileName(filepath.Base(p)); ok {
			dates = append(dates, date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
