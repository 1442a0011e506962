package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/John-Robertt/reelrag/internal/domain"
)

const (
	defaultMinBackoff = 4 * time.Second
	defaultMaxBackoff = 10 * time.Second
	maxBodyBytes      = 10 << 20
)

// Options 是 Session 的可选项；零值即为生产默认值。
type Options struct {
	Logger *slog.Logger

	// ProxyURL 非空时所有请求走该代理。
	ProxyURL string

	// MinBackoff/MaxBackoff 控制网络错误后的指数退避（默认 4s 起、每次翻倍、上限 10s）。
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Base 用于测试注入底层 RoundTripper。
	Base http.RoundTripper
}

// Session 是一次 adapter 调用独占的抓取会话。
//
// 约束：
// - 只对网络层错误重试，总尝试次数为 FetchConfig.MaxRetries
// - 非 200 不重试，返回 *StatusError（匹配 ErrNoContent）
// - 不缓存；Fetch 不做隐式等待，请求间隔由调用方通过 Pace 控制
// - 使用完必须 Close
type Session struct {
	client  *http.Client
	cfg     domain.FetchConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	// notify 在每次退避前调用（测试用于观察退避时长）。
	notify func(err error, wait time.Duration)
}

// NewSession 按 cfg 构造会话；cfg 必须已通过 Validate。
func NewSession(cfg domain.FetchConfig, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := newClient(opts.Base, opts.ProxyURL, cfg.UserAgent, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.Delay > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minB, maxB := opts.MinBackoff, opts.MaxBackoff
	if minB <= 0 {
		minB = defaultMinBackoff
	}
	if maxB <= 0 {
		maxB = defaultMaxBackoff
	}
	if maxB < minB {
		maxB = minB
	}

	return &Session{
		client:     c,
		cfg:        cfg,
		limiter:    lim,
		logger:     logger,
		minBackoff: minB,
		maxBackoff: maxB,
	}, nil
}

// Fetch 获取 url 的响应体。
func (s *Session) Fetch(ctx context.Context, url string) ([]byte, error) {
	attempts := 0
	op := func() ([]byte, error) {
		attempts++
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		b, err := s.fetchOnce(ctx, url)
		if err == nil {
			return b, nil
		}
		var se *StatusError
		if errors.As(err, &se) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Debug("抓取失败，准备重试", "url", url, "attempt", attempts, "wait", wait, "err", err)
		if s.notify != nil {
			s.notify(err, wait)
		}
	}

	b, err := backoff.RetryNotifyWithData(op, backoff.WithContext(s.policy(), ctx), notify)
	if err == nil {
		return b, nil
	}

	var se *StatusError
	if errors.As(err, &se) {
		s.logger.Warn("页面没有可用内容", "url", url, "status", se.StatusCode)
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, &FetchError{URL: url, Attempts: attempts, Err: err}
}

func (s *Session) policy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.minBackoff
	eb.MaxInterval = s.maxBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(s.cfg.MaxRetries-1))
}

func (s *Session) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("构造请求失败：%w", err))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 读掉少量 body 以便连接复用。
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// Pace 等待到下一个请求允许发出的时刻；第一次调用不等待。
func (s *Session) Pace(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// Config 返回会话使用的抓取配置。
func (s *Session) Config() domain.FetchConfig { return s.cfg }

// Close 释放空闲连接。
func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
