package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultUserAgent 是默认的桌面浏览器 UA；部分站点对非浏览器 UA 直接返回拦截页。
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// RandomUserAgent 表示每个请求从内置 UA 池随机取一个；空字符串同义。
const RandomUserAgent = "random"

// FetchConfig 是一次抓取调用的网络与预算参数。
//
// 约束：
// - MaxRetries 表示总尝试次数（含首次），至少为 1
// - Delay 只由 adapter 在请求之间显式使用，fetch 层不会隐式等待
type FetchConfig struct {
	Delay      time.Duration `json:"delay"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	UserAgent  string        `json:"user_agent"`
	MaxReviews int           `json:"max_reviews"`
}

func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Delay:      time.Second,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		UserAgent:  DefaultUserAgent,
		MaxReviews: 30,
	}
}

// Validate 检查各字段边界；错误信息带字段名，便于 CLI 直接展示。
// UserAgent 为空或 RandomUserAgent 时合法，表示轮换 UA。
func (c FetchConfig) Validate() error {
	if c.Delay < 0 {
		return fmt.Errorf("delay 不能为负数：%s", c.Delay)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout 必须大于 0：%s", c.Timeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries 至少为 1：%d", c.MaxRetries)
	}
	if c.MaxReviews < 1 {
		return fmt.Errorf("max_reviews 至少为 1：%d", c.MaxReviews)
	}
	if strings.ContainsAny(c.UserAgent, "\r\n") {
		return fmt.Errorf("user_agent 不能包含换行")
	}
	return nil
}

// SourceResult 是单个站点一次抓取的结果。
//
// 约束：Success==true 时 Movie 非空、Error 为空；否则 Movie 为空、Error 非空。
type SourceResult struct {
	Source      string        `json:"source"`
	Success     bool          `json:"success"`
	Movie       *MovieRecord  `json:"movie,omitempty"`
	Error       string        `json:"error,omitempty"`
	ReviewCount int           `json:"review_count"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Failed 构造失败结果。
func Failed(source, msg string, elapsed time.Duration) SourceResult {
	return SourceResult{Source: source, Error: msg, Elapsed: elapsed}
}

// Succeeded 构造成功结果；ReviewCount 由 movie.Reviews 推出。
func Succeeded(source string, movie MovieRecord, elapsed time.Duration) SourceResult {
	return SourceResult{
		Source:      source,
		Success:     true,
		Movie:       &movie,
		ReviewCount: len(movie.Reviews),
		Elapsed:     elapsed,
	}
}
