package httpx

import (
	"errors"
	"fmt"
)

// ErrNoContent 表示页面“没有可用内容”：站点返回了非 200 状态码。
// 该情况不重试，由 adapter 视为缺页。
var ErrNoContent = errors.New("no content available")

// StatusError 携带非 200 的状态码；errors.Is(err, ErrNoContent) 为 true。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

func (e *StatusError) Is(target error) bool { return target == ErrNoContent }

// FetchError 表示网络层错误在用尽所有尝试后仍未恢复。
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s 失败（尝试 %d 次）：%v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
