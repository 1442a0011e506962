package provider

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示站点上找不到（或校验不通过）该电影。
// 这是正常的失败结果，不作为系统错误上抛。
var ErrNotFound = errors.New("movie not found")

// NotFoundMsg 是 SourceResult.Error 中 ErrNotFound 的固定文案。
const NotFoundMsg = "Movie not found"

// ParseError 表示页面取到了但无法解析出必需内容（目前只有标题是必需的）。
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	if e == nil {
		return "parse error"
	}
	return fmt.Sprintf("解析失败 %s：%s", e.URL, e.Reason)
}

// Error 是 provider 阶段的可追溯错误。
// 上层可以据此把失败归类为 fetch_failed / parse_failed。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "search" / "metadata" / "reviews"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
