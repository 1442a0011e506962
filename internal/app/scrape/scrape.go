package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/fusion"
	"github.com/John-Robertt/reelrag/internal/infra/httpx"
	"github.com/John-Robertt/reelrag/internal/provider"
)

// Request 是一次抓取调用的输入。
type Request struct {
	Title string
	Year  int
	// Sources 为空时使用注册表中的全部站点。
	Sources []string
	Config  domain.FetchConfig
}

// Outcome 是一次抓取调用的输出。
//
// 约束：Movie==nil 当且仅当没有任何站点成功；Results 与选中的站点一一对应，顺序同请求。
type Outcome struct {
	Movie   *domain.MovieRecord
	Results []domain.SourceResult
	// Unknown 是请求里无法识别、被丢弃的站点名。
	Unknown []string
}

// Coordinator 并发调用各站点并把结果交给 fusion 合并。
type Coordinator struct {
	Registry provider.Registry
	// Open 为每个站点创建独占会话；为空时使用 httpx。
	Open     provider.Opener
	Logger   *slog.Logger
	Observer Observer
}

// ScrapeMovie 对每个选中的站点启动一个 goroutine，等待全部结束。
//
// 规则：
// - 单个站点的错误或 panic 只影响它自己的结果，不取消其它站点
// - ctx 被取消时丢弃全部结果，返回 ctx.Err()
// - 没有可用站点时返回空 Outcome（不是错误）
func (c *Coordinator) ScrapeMovie(ctx context.Context, req Request) (Outcome, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return Outcome{}, errors.New("title 不能为空")
	}
	if err := req.Config.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("抓取配置无效：%w", err)
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	open := c.Open
	if open == nil {
		open = provider.HTTPOpener(httpx.Options{Logger: logger})
	}

	selected, unknown := c.selectProviders(req.Sources)
	for _, u := range unknown {
		logger.Warn("未知站点，已忽略", "source", u)
	}
	out := Outcome{Unknown: unknown}
	if len(selected) == 0 {
		logger.Warn("没有可用站点", "title", title)
		return out, nil
	}

	names := make([]string, len(selected))
	for i, p := range selected {
		names[i] = p.Name()
	}
	if c.Observer != nil {
		c.Observer.OnStart(title, names)
	}

	results := make([]domain.SourceResult, len(selected))
	var done atomic.Int32
	var g errgroup.Group
	for i, p := range selected {
		i, p := i, p
		g.Go(func() error {
			results[i] = runOne(ctx, p, open, title, req, logger)
			n := int(done.Add(1))
			if c.Observer != nil {
				c.Observer.OnSourceDone(n, len(selected), results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	for _, r := range results {
		if r.Success {
			logger.Info("站点抓取完成", "source", r.Source, "status", "success", "reviews", r.ReviewCount, "elapsed", r.Elapsed.Round(time.Millisecond))
		} else {
			logger.Info("站点抓取完成", "source", r.Source, "status", "failed", "error", r.Error, "elapsed", r.Elapsed.Round(time.Millisecond))
		}
	}

	out.Results = results
	if m, ok := fusion.Combine(results); ok {
		out.Movie = m
	}
	return out, nil
}

// runOne 把 panic 收敛为失败结果；会话由 provider.Scrape 自己 defer 关闭。
func runOne(ctx context.Context, p provider.Provider, open provider.Opener, title string, req Request, logger *slog.Logger) (res domain.SourceResult) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			logger.Error("站点抓取 panic", "source", p.Name(), "panic", v)
			res = domain.Failed(p.Name(), fmt.Sprintf("panic: %v", v), time.Since(start))
		}
	}()
	return provider.Scrape(ctx, p, open, title, req.Year, req.Config, logger)
}

// selectProviders 过滤未知站点并去重，保持请求顺序。
func (c *Coordinator) selectProviders(sources []string) ([]provider.Provider, []string) {
	if len(sources) == 0 {
		sources = c.Registry.Names()
	}
	var (
		out     []provider.Provider
		unknown []string
	)
	seen := make(map[string]struct{})
	for _, s := range sources {
		p, ok := c.Registry.Get(s)
		if !ok {
			if strings.TrimSpace(s) != "" {
				unknown = append(unknown, s)
			}
			continue
		}
		if _, dup := seen[p.Name()]; dup {
			continue
		}
		seen[p.Name()] = struct{}{}
		out = append(out, p)
	}
	return out, unknown
}
