package remotefile

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

var (
	// ErrUnavailable 匹配所有 *UnavailableError，批处理调用方据此把单个文件视为缺口。
	ErrUnavailable = errors.New("source unavailable")

	// ErrMaterializeTimeout 表示占位文件在超时前没有下载完成。
	ErrMaterializeTimeout = errors.New("materialization timed out")
)

// UnavailableError 是 Result 非 OK 时经 Unwrap 得到的错误。
type UnavailableError struct {
	Path   string
	Status Status
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Path, e.Status)
	}
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Status, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrUnavailable) 对任意 UnavailableError 成立。
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// ParseError 表示读取成功但内容为空或不是合法 JSON。
type ParseError struct {
	Path  string
	Empty bool
	Err   error
}

func (e *ParseError) Error() string {
	if e.Empty {
		return fmt.Sprintf("parse %s: file is empty", e.Path)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var transientErrnos = []syscall.Errno{
	syscall.EDEADLK,
	syscall.EAGAIN,
	syscall.EBUSY,
	syscall.ETIMEDOUT,
}

var transientMessages = []string{
	"resource deadlock avoided",
	"resource temporarily unavailable",
	"device or resource busy",
}

// IsTransient 判断读取错误是否属于同步盘短暂锁定一类，可以重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
