package remotefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solstice035/health-analytics/internal/logging"
)

// Options 控制物化等待与重试预算。零值字段使用默认值。
type Options struct {
	// MaxRetries 是短暂读取错误允许的总尝试次数，默认 3。
	MaxRetries int
	// RetryDelay 是首次重试前的等待，默认 1s。
	RetryDelay time.Duration
	// Backoff 为每次重试后 delay 的倍数，1 表示固定间隔。
	Backoff float64
	// MaxDelay 限制单次等待上限，默认 5s。
	MaxDelay time.Duration
	// MaterializeTimeout 是等待占位文件下载完成的上限，默认 30s。
	MaterializeTimeout time.Duration
	// PollInterval 是等待期间检查状态的间隔，默认 500ms。
	PollInterval time.Duration
	// MinBytes 小于该大小的文件视为尚未下载的占位文件，默认 1。
	MinBytes int64

	Materializer Materializer
	Logger       *logrus.Logger
}

const (
	defaultMaxRetries         = 3
	defaultRetryDelay         = time.Second
	defaultMaxDelay           = 5 * time.Second
	defaultMaterializeTimeout = 30 * time.Second
	defaultPollInterval       = 500 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.Backoff < 1 {
		o.Backoff = 1
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultMaxDelay
	}
	if o.MaterializeTimeout <= 0 {
		o.MaterializeTimeout = defaultMaterializeTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.MinBytes <= 0 {
		o.MinBytes = 1
	}
	if o.Materializer == nil {
		o.Materializer = NopMaterializer{}
	}
	return o
}

// Reader 按需物化并读取远端文件，可被多个 goroutine 并发使用。
// 单次 Read 的重试计数只存在于调用栈上，不做持久化。
type Reader struct {
	opts   Options
	logger *logrus.Logger

	stat     func(string) (os.FileInfo, error)
	readFile func(string) ([]byte, error)
	probe    func(string) error
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
}

// NewReader 构造 Reader，并为缺省的选项填充默认值。
func NewReader(opts Options) *Reader {
	opts = opts.withDefaults()
	return &Reader{
		opts:     opts,
		logger:   logging.OrDiscard(opts.Logger),
		stat:     os.Stat,
		readFile: os.ReadFile,
		probe:    probeFile,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Options 返回填充默认值后的配置。
func (r *Reader) Options() Options {
	return r.opts
}

// Read 物化 path 并把内容解析为通用 JSON 结构（map/slice/标量）。
func (r *Reader) Read(ctx context.Context, path string) Result {
	var data any
	res := r.read(ctx, path, func(raw []byte) error {
		return json.Unmarshal(raw, &data)
	})
	if res.OK() {
		res.Data = data
	}
	return res
}

// ReadInto 与 Read 相同，但直接解码到调用方提供的 v（必须是非 nil 指针）。
// 每次解码前 v 都会被重置为零值，解析重试不会残留上一次的字段。
func (r *Reader) ReadInto(ctx context.Context, path string, v any) Result {
	target := reflect.ValueOf(v)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return r.fail(Result{Path: path, Attempts: 1}, StatusUnavailable, fmt.Errorf("ReadInto requires a non-nil pointer, got %T", v))
	}
	res := r.read(ctx, path, func(raw []byte) error {
		target.Elem().SetZero()
		return json.Unmarshal(raw, v)
	})
	if res.OK() {
		res.Data = v
	}
	return res
}

func (r *Reader) read(ctx context.Context, path string, decode func([]byte) error) Result {
	res := Result{Path: path}
	delay := r.opts.RetryDelay
	transientFailures := 0
	parseRetried := false

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		_, polls, err := r.Materialize(ctx, path)
		res.Polls += polls
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.fail(res, StatusRetryExhausted, ctxErr)
			}
			return r.fail(res, StatusUnavailable, err)
		}

		raw, err := r.readFile(path)
		if err != nil {
			if !IsTransient(err) {
				return r.fail(res, StatusUnavailable, err)
			}
			transientFailures++
			if transientFailures >= r.opts.MaxRetries {
				return r.fail(res, StatusRetryExhausted, err)
			}
			r.logger.WithFields(logging.ReadFields("read_retry", path, attempt)).
				WithError(err).Warn("transient read failure")
			r.requestMaterialize(ctx, path)
		} else {
			decodeErr := r.decode(path, raw, decode)
			if decodeErr == nil {
				res.Status = StatusOK
				res.Err = nil
				return res
			}
			// 空文件或半截 JSON 可能仍在同步，只宽限一次。
			if parseRetried {
				return r.fail(res, StatusRetryExhausted, decodeErr)
			}
			parseRetried = true
			r.logger.WithFields(logging.ReadFields("parse_retry", path, attempt)).
				WithError(decodeErr).Warn("parse failure, retrying once")
		}

		if err := r.sleep(ctx, delay); err != nil {
			return r.fail(res, StatusRetryExhausted, err)
		}
		delay = r.nextDelay(delay)
	}
}

func (r *Reader) decode(path string, raw []byte, decode func([]byte) error) error {
	if len(raw) == 0 {
		return &ParseError{Path: path, Empty: true}
	}
	if err := decode(raw); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

// Materialize 确保 path 已下载到本地。对占位文件发起一次物化请求，
// 然后以 PollInterval 轮询，直到完成或 MaterializeTimeout 到期。
// 已有内容但被锁定（Downloading）的文件直接返回，锁由调用方的重试预算处理。
// 返回最后观察到的状态与轮询次数。
func (r *Reader) Materialize(ctx context.Context, path string) (State, int, error) {
	deadline := r.now().Add(r.opts.MaterializeTimeout)
	polls := 0
	requested := false

	for {
		state, err := r.Inspect(path)
		polls++
		if err != nil {
			return state, polls, err
		}
		if state.Materialization == Materialized || state.Materialization == Downloading {
			return state, polls, nil
		}

		if !requested {
			r.requestMaterialize(ctx, path)
			requested = true
		}

		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return state, polls, fmt.Errorf("%w after %s (%s)", ErrMaterializeTimeout, r.opts.MaterializeTimeout, state.Materialization)
		}
		wait := r.opts.PollInterval
		if wait > remaining {
			wait = remaining
		}
		if err := r.sleep(ctx, wait); err != nil {
			return state, polls, err
		}
	}
}

func (r *Reader) requestMaterialize(ctx context.Context, path string) {
	if err := r.opts.Materializer.Materialize(ctx, path); err != nil {
		r.logger.WithFields(logrus.Fields{
			"action": "materialize",
			"path":   path,
		}).WithError(err).Debug("materialization request failed")
	}
}

func (r *Reader) fail(res Result, status Status, err error) Result {
	res.Status = status
	res.Err = err
	level := logrus.WarnLevel
	if errors.Is(err, fs.ErrNotExist) {
		level = logrus.DebugLevel
	}
	r.logger.WithFields(logging.ReadFields("read_failed", res.Path, res.Attempts)).
		WithField("status", string(status)).
		WithError(err).
		Log(level, "source unavailable")
	return res
}

func (r *Reader) nextDelay(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * r.opts.Backoff)
	if next > r.opts.MaxDelay {
		return r.opts.MaxDelay
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
