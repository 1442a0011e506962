// Package rag 把抓取、入库、检索与补全串成完整的问答流程。
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/John-Robertt/reelrag/internal/app/scrape"
	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/embedding"
	"github.com/John-Robertt/reelrag/internal/llm"
	"github.com/John-Robertt/reelrag/internal/vectorstore"
)

var (
	// ErrNoMovie 表示没有可入库的电影（记录为空或缺少标题）。
	ErrNoMovie = errors.New("没有可入库的电影")
	// ErrUnknownTitle 表示存储中没有该电影。
	ErrUnknownTitle = errors.New("电影不在库中")
)

const summaryResults = 10

// Options 控制检索与上下文拼接。
type Options struct {
	// MaxResults 是每次检索的默认条数。
	MaxResults int
	// SimilarityThreshold 以下的命中被丢弃。
	SimilarityThreshold float64
	// ContextChars 是提交给补全服务的上下文字符上限；<=0 表示不限。
	ContextChars int
	// ExcerptChars 是单条评论在上下文中的字符上限。
	ExcerptChars int
}

func DefaultOptions() Options {
	return Options{MaxResults: 5, SimilarityThreshold: 0.1, ContextChars: 6000, ExcerptChars: 500}
}

// Service 是对外的 RAG 入口。
//
// 约束：
// - 同一个电影名（大小写不敏感）在库中只有一份；重新入库先整体替换
// - LLM 为空或补全失败时退化为直接拼接命中文本，不返回错误
// - Store 与 Embedder 必填；Scraper 只在 Collect/Ingest 时需要
type Service struct {
	Scraper  *scrape.Coordinator
	Store    vectorstore.Store
	Embedder embedding.Embedder
	LLM      llm.Completer

	// Fetch 是抓取配置；零值使用 domain.DefaultFetchConfig。
	Fetch   domain.FetchConfig
	Options Options
	Logger  *slog.Logger
	Now     func() time.Time
}

// CollectRequest 描述一次抓取。
type CollectRequest struct {
	Title   string
	Year    int
	Sources []string
	// MaxReviews>0 时覆盖 Fetch.MaxReviews。
	MaxReviews int
}

// Answer 是一次问答的结果。
type Answer struct {
	Text string `json:"answer"`
	// Hits 是参与回答的命中（已按阈值过滤）。
	Hits []vectorstore.Hit `json:"hits"`
	// Model 为空表示回答由命中文本直接拼接而成。
	Model string `json:"model,omitempty"`
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) fetchConfig(maxReviews int) domain.FetchConfig {
	cfg := s.Fetch
	if cfg == (domain.FetchConfig{}) {
		cfg = domain.DefaultFetchConfig()
	}
	if maxReviews > 0 {
		cfg.MaxReviews = maxReviews
	}
	return cfg
}

func (s *Service) options() Options {
	o := s.Options
	def := DefaultOptions()
	if o.MaxResults <= 0 {
		o.MaxResults = def.MaxResults
	}
	if o.ExcerptChars <= 0 {
		o.ExcerptChars = def.ExcerptChars
	}
	return o
}

// Collect 从各站点抓取并融合，不写入存储。
func (s *Service) Collect(ctx context.Context, req CollectRequest) (scrape.Outcome, error) {
	if s.Scraper == nil {
		return scrape.Outcome{}, errors.New("rag: 未配置抓取器")
	}
	return s.Scraper.ScrapeMovie(ctx, scrape.Request{
		Title:   req.Title,
		Year:    req.Year,
		Sources: req.Sources,
		Config:  s.fetchConfig(req.MaxReviews),
	})
}

// Ingest 抓取、入库并生成报告；所有站点都失败时报告中 Movie 为空且不写库。
func (s *Service) Ingest(ctx context.Context, req CollectRequest) (domain.ScrapeReport, error) {
	rep := domain.ScrapeReport{Title: strings.TrimSpace(req.Title), Year: req.Year, StartedAt: s.now()}
	out, err := s.Collect(ctx, req)
	if err != nil {
		return rep, err
	}
	if len(out.Unknown) > 0 {
		s.logger().Warn("忽略未知站点", "sources", out.Unknown)
	}
	for _, r := range out.Results {
		rep.Sources = append(rep.Sources, domain.NewSourceReport(r))
	}
	rep.Movie = out.Movie
	if out.Movie != nil {
		n, err := s.Add(ctx, out.Movie)
		if err != nil {
			rep.FinishedAt = s.now()
			rep.Finalize()
			return rep, err
		}
		rep.Indexed = n
	} else {
		s.logger().Warn("所有站点均未返回数据", "title", rep.Title)
	}
	rep.FinishedAt = s.now()
	rep.Finalize()
	return rep, nil
}

// Add 把电影写入存储并返回写入的文档数；已存在的同名电影会被替换。
func (s *Service) Add(ctx context.Context, m *domain.MovieRecord) (int, error) {
	if m == nil || strings.TrimSpace(m.Title) == "" {
		return 0, ErrNoMovie
	}
	docs := BuildDocuments(*m, s.now())
	vecs := make([][]float64, len(docs))
	for i, d := range docs {
		v, err := s.Embedder.Embed(ctx, d.Text)
		if err != nil {
			return 0, fmt.Errorf("生成向量失败：%w", err)
		}
		vecs[i] = v
	}

	removed, err := s.Store.DeleteTitle(ctx, m.Title)
	if err != nil {
		return 0, fmt.Errorf("删除旧数据失败：%w", err)
	}
	if removed > 0 {
		s.logger().Info("电影已存在，替换旧数据", "title", m.Title, "removed", removed)
	}
	if err := s.Store.Add(ctx, docs, vecs); err != nil {
		return 0, fmt.Errorf("写入存储失败：%w", err)
	}
	s.logger().Info("电影已入库", "title", m.Title, "documents", len(docs), "reviews", len(docs)-1)
	return len(docs), nil
}

// Query 检索与问题最相关的文档并生成回答；title 非空时只在该电影范围内检索。
func (s *Service) Query(ctx context.Context, question, title string, k int) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, errors.New("问题不能为空")
	}
	title = strings.TrimSpace(title)
	opts := s.options()
	if k <= 0 {
		k = opts.MaxResults
	}

	hits, err := s.search(ctx, question, vectorstore.Filter{Title: title}, k)
	if err != nil {
		return Answer{}, err
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= opts.SimilarityThreshold {
			kept = append(kept, h)
		}
	}
	s.logger().Debug("检索完成", "question", question, "title", title, "hits", len(hits), "kept", len(kept), "threshold", opts.SimilarityThreshold)
	if len(kept) == 0 {
		return Answer{Text: noResultsAnswer(title)}, nil
	}
	return s.answer(ctx, question, title, kept, opts)
}

// Summary 基于库中该电影的概览与评论生成总结。
func (s *Service) Summary(ctx context.Context, title string) (Answer, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Answer{}, errors.New("电影名不能为空")
	}
	overview, err := s.Store.Documents(ctx, vectorstore.Filter{Title: title, Type: vectorstore.TypeOverview})
	if err != nil {
		return Answer{}, err
	}
	if len(overview) == 0 {
		return Answer{}, fmt.Errorf("%w：%s", ErrUnknownTitle, title)
	}
	hits, err := s.search(ctx, "summary overview analysis "+title, vectorstore.Filter{Title: title}, summaryResults)
	if err != nil {
		return Answer{}, err
	}
	if len(hits) == 0 {
		return Answer{}, fmt.Errorf("%w：%s", ErrUnknownTitle, title)
	}
	q := fmt.Sprintf("Provide a comprehensive summary and analysis of %s based on the available reviews and information.", title)
	return s.answer(ctx, q, title, hits, s.options())
}

func (s *Service) search(ctx context.Context, text string, f vectorstore.Filter, k int) ([]vectorstore.Hit, error) {
	vec, err := s.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("生成查询向量失败：%w", err)
	}
	hits, err := s.Store.Query(ctx, vec, f, k)
	if err != nil {
		return nil, fmt.Errorf("检索失败：%w", err)
	}
	return hits, nil
}

func (s *Service) answer(ctx context.Context, question, title string, hits []vectorstore.Hit, opts Options) (Answer, error) {
	if s.LLM == nil {
		return Answer{Text: fallbackAnswer(hits, title), Hits: hits}, nil
	}
	prompt := userPrompt(question, title, buildContext(hits, opts.ExcerptChars, opts.ContextChars))
	text, err := s.LLM.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		s.logger().Warn("补全失败，使用检索结果直接回答", "model", s.LLM.Name(), "err", err)
		return Answer{Text: fallbackAnswer(hits, title), Hits: hits}, nil
	}
	return Answer{Text: text, Hits: hits, Model: s.LLM.Name()}, nil
}

// ListTitles 返回库中所有电影名。
func (s *Service) ListTitles(ctx context.Context) ([]string, error) {
	return s.Store.Titles(ctx)
}

// Delete 删除一部电影；不存在时返回 false。
func (s *Service) Delete(ctx context.Context, title string) (bool, error) {
	n, err := s.Store.DeleteTitle(ctx, title)
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.logger().Info("电影已删除", "title", title, "documents", n)
	}
	return n > 0, nil
}

func (s *Service) Stats(ctx context.Context) (vectorstore.Stats, error) {
	return s.Store.Stats(ctx)
}

// Clear 清空整个存储。
func (s *Service) Clear(ctx context.Context) error {
	if err := s.Store.Clear(ctx); err != nil {
		return err
	}
	s.logger().Info("存储已清空")
	return nil
}
