// Package apix 是 OpenAI 兼容 HTTP API（embeddings / chat completions）的最小 JSON 客户端。
package apix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 5
	defaultMinBackoff = 200 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
	maxBodyBytes      = 8 << 20
)

// APIError 表示服务端返回了非 2xx。
type APIError struct {
	URL        string
	StatusCode int
	// Body 是响应体前缀，便于排查。
	Body string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API %s 返回 HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("API %s 返回 HTTP %d：%s", e.URL, e.StatusCode, e.Body)
}

// Retryable 报告该状态码是否值得重试（429 与 5xx）。
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config 描述一个 OpenAI 兼容端点。
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// MaxRetries 是失败后的额外重试次数；0 使用默认值，负数表示不重试。
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration

	Logger *slog.Logger
	// Base 用于测试注入底层 RoundTripper。
	Base http.RoundTripper
}

// Client 发送 JSON 请求并解码 JSON 响应。
//
// 约束：
// - 网络错误、429 与 5xx 以指数退避重试；其它非 2xx 立即返回 *APIError
// - 解码失败不重试
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	maxRetries uint64
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// New 校验并构造客户端。
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("apix: base_url 不能为空")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	switch {
	case retries == 0:
		retries = defaultMaxRetries
	case retries < 0:
		retries = 0
	}
	minB, maxB := cfg.MinBackoff, cfg.MaxBackoff
	if minB <= 0 {
		minB = defaultMinBackoff
	}
	if maxB <= 0 {
		maxB = defaultMaxBackoff
	}
	if maxB < minB {
		maxB = minB
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := cfg.Base
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		http:       &http.Client{Timeout: timeout, Transport: rt},
		maxRetries: uint64(retries),
		minBackoff: minB,
		maxBackoff: maxB,
		logger:     logger,
	}, nil
}

// PostJSON 把 in 编码为 JSON POST 到 baseURL+path，并把 2xx 响应解码到 out。
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("编码请求失败：%w", err)
	}
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	op := func() ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		b, err := c.do(ctx, url, payload)
		if err == nil {
			return b, nil
		}
		var ae *APIError
		if errors.As(err, &ae) && !ae.Retryable() {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("API 请求失败，准备重试", "url", url, "wait", wait, "err", err)
	}

	body, err := backoff.RetryNotifyWithData(op, backoff.WithContext(c.policy(), ctx), notify)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解码 %s 响应失败：%w", url, err)
	}
	return nil
}

func (c *Client) policy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.minBackoff
	eb.MaxInterval = c.maxBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, c.maxRetries)
}

func (c *Client) do(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("构造请求失败：%w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &APIError{URL: url, StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}
