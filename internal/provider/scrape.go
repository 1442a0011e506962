package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/infra/httpx"
)

// Session 是一次 Scrape 独占的抓取会话。
type Session interface {
	Fetcher
	Close() error
}

// Opener 为一次 Scrape 创建会话；生产实现见 HTTPOpener。
type Opener func(cfg domain.FetchConfig) (Session, error)

// HTTPOpener 返回基于 httpx.Session 的 Opener。
func HTTPOpener(opts httpx.Options) Opener {
	return func(cfg domain.FetchConfig) (Session, error) {
		return httpx.NewSession(cfg, opts)
	}
}

// Scrape 串起 Search -> Metadata -> Reviews，并把所有错误收敛为 SourceResult。
//
// 约束：
// - 会话在函数内创建、在函数退出时关闭（包括 panic 展开）
// - Search 返回 ErrNotFound 时不再抓取元数据与评论
// - Reviews 出错时降级为 0 条评论，不影响成功结果
// - ctx 取消时返回 ctx 错误文案；是否丢弃结果由调用方决定
func Scrape(ctx context.Context, p Provider, open Opener, title string, year int, cfg domain.FetchConfig, logger *slog.Logger) domain.SourceResult {
	start := time.Now()
	name := normName(p.Name())
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", name)

	fail := func(msg string) domain.SourceResult {
		return domain.Failed(name, msg, time.Since(start))
	}

	s, err := open(cfg)
	if err != nil {
		return fail(fmt.Sprintf("创建会话失败：%v", err))
	}
	defer s.Close()

	pageURL, err := p.Search(ctx, s, title, year)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail(NotFoundMsg)
		}
		logger.Warn("搜索失败", "title", title, "err", err)
		return fail((&Error{Provider: name, Stage: "search", Err: err}).Error())
	}

	if err := s.Pace(ctx); err != nil {
		return fail(err.Error())
	}
	movie, err := p.Metadata(ctx, s, pageURL)
	if err != nil {
		logger.Warn("元数据抓取失败", "url", pageURL, "err", err)
		return fail((&Error{Provider: name, Stage: "metadata", Err: err}).Error())
	}

	reviews, err := p.Reviews(ctx, s, pageURL, cfg.MaxReviews)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err().Error())
		}
		logger.Warn("评论抓取失败，按 0 条处理", "url", pageURL, "err", err)
		reviews = nil
	}
	if len(reviews) > cfg.MaxReviews {
		reviews = reviews[:cfg.MaxReviews]
	}
	movie.Reviews = reviews
	return domain.Succeeded(name, movie, time.Since(start))
}

// FirstMatch 逐个校验候选详情页，返回第一个标题与年份都匹配的 URL。
//
// 每个候选都会重新抓取详情页（先 Pace）；单个候选抓取/解析失败视为不匹配。
// 只有 ctx 取消会以错误返回。
func FirstMatch(ctx context.Context, p Provider, f Fetcher, candidates []string, title string, year int) (string, error) {
	for _, u := range candidates {
		if err := f.Pace(ctx); err != nil {
			return "", err
		}
		m, err := p.Metadata(ctx, f, u)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			slog.Debug("候选校验失败，视为不匹配", "provider", p.Name(), "url", u, "err", err)
			continue
		}
		tm, ym := TitleMatches(title, m.Title), YearMatches(year, m.Year)
		slog.Debug("候选校验", "provider", p.Name(), "url", u, "expected", title, "found", m.Title, "year", m.Year, "title_match", tm, "year_match", ym)
		if tm && ym {
			return u, nil
		}
	}
	return "", ErrNotFound
}
