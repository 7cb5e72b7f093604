package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/solstice035/health-analytics/internal/healthdata"
	"github.com/solstice035/health-analytics/internal/logging"
)

// DefaultDebounce 覆盖 iCloud 同步时一个文件连续多次写入的间隔。
const DefaultDebounce = 2 * time.Second

// RefreshFunc 在某天的导出文件变化后被调用。
type RefreshFunc func(ctx context.Context, date time.Time) error

// Options 配置 Watcher。
type Options struct {
	Debounce time.Duration
	Logger   *logrus.Logger
}

// Watcher 监听数据目录，导出文件创建或写入后按日期调用 RefreshFunc。
type Watcher struct {
	dir     string
	refresh RefreshFunc
	window  time.Duration
	logger  *logrus.Logger

	fsWatcher *fsnotify.Watcher
	batches   chan []string
}

// NewWatcher 创建 Watcher 并开始监听 dir；调用方需执行 Run。
func NewWatcher(dir string, refresh RefreshFunc, opts Options) (*Watcher, error) {
	if refresh == nil {
		return nil, errors.New("refresh callback required")
	}
	window := opts.Debounce
	if window <= 0 {
		window = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:       dir,
		refresh:   refresh,
		window:    window,
		logger:    logging.OrDiscard(opts.Logger),
		fsWatcher: fsWatcher,
		batches:   make(chan []string, 1),
	}, nil
}

// Run 处理事件直到 ctx 结束，返回前关闭底层 watcher。刷新按批次串行执行。
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsWatcher.Close() //nolint:errcheck // closing on shutdown

	debouncer := NewDebouncer(w.window, func(paths []string) {
		select {
		case w.batches <- paths:
		case <-ctx.Done():
		}
	})
	defer debouncer.Stop()

	w.logger.WithFields(logrus.Fields{
		"action":   "watch_start",
		"dir":      w.dir,
		"debounce": w.window.String(),
	}).Info("watching export directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if _, relevant := w.dateOf(event); relevant {
				debouncer.Add(event.Name)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithFields(logrus.Fields{"action": "watch_error", "dir": w.dir}).
				WithError(err).Warn("file system watcher error")
		case paths := <-w.batches:
			w.refreshAll(ctx, paths)
		}
	}
}

// dateOf 只接受导出文件的创建与写入事件。
func (w *Watcher) dateOf(event fsnotify.Event) (time.Time, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return time.Time{}, false
	}
	return healthdata.DateFromFileName(filepath.Base(event.Name))
}

func (w *Watcher) refreshAll(ctx context.Context, paths []string) {
	for _, path := range paths {
		date, ok := healthdata.DateFromFileName(filepath.Base(path))
		if !ok {
			continue
		}
		fields := logrus.Fields{
			"action": "watch_refresh",
			"path":   path,
			"date":   date.Format(healthdata.DateLayout),
		}
		if err := w.refresh(ctx, date); err != nil {
			w.logger.WithFields(fields).WithError(err).Warn("refresh after change failed")
			continue
		}
		w.logger.WithFields(fields).Info("refreshed after change")
	}
}
