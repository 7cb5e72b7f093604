package remotefile

// Status 区分成功、重试耗尽与永久不可用三种读取结果。
type Status string

const (
	StatusOK             Status = "ok"
	StatusRetryExhausted Status = "retry_exhausted"
	StatusUnavailable    Status = "unavailable"
)

// Result 是一次 Read 的完整结果。Status 非 OK 时 Data 为空、Err 描述原因。
type Result struct {
	Path     string
	Status   Status
	Data     any
	Err      error
	Attempts int
	Polls    int
}

// OK 表示数据已成功读取并解析。
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Unwrap 将 Result 转为 (data, error)，失败时返回 *UnavailableError。
func (r Result) Unwrap() (any, error) {
	if r.OK() {
		return r.Data, nil
	}
	return nil, r.AsError()
}

// AsError 返回描述失败的 *UnavailableError；成功时返回 nil。
func (r Result) AsError() error {
	if r.OK() {
		return nil
	}
	return &UnavailableError{Path: r.Path, Status: r.Status, Err: r.Err}
}
