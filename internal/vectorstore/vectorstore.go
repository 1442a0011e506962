// Package vectorstore 定义文档向量存储的契约与各实现共享的打分逻辑。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/John-Robertt/reelrag/internal/embedding"
)

const (
	TypeOverview = "overview"
	TypeReview   = "review"
)

var (
	// ErrDimension 表示向量维度与存储中已有的不一致。
	ErrDimension = errors.New("vector dimension mismatch")
	// ErrClosed 表示存储已关闭。
	ErrClosed = errors.New("store closed")
)

// Meta 是随文档保存的结构化元数据。
type Meta struct {
	Title string `json:"title"`
	Year  int    `json:"year,omitempty"`
	// Type 是 overview 或 review。
	Type   string `json:"type"`
	Source string `json:"source"`

	Director string `json:"director,omitempty"`
	Genre    string `json:"genre,omitempty"`

	Author       string    `json:"author,omitempty"`
	Rating       *float64  `json:"rating,omitempty"`
	ReviewKind   string    `json:"review_kind,omitempty"`
	PublishedAt  time.Time `json:"published_at,omitzero"`
	HelpfulVotes int       `json:"helpful_votes,omitempty"`

	AddedAt time.Time `json:"added_at"`
}

// Document 是一段带元数据的可检索文本。
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Meta Meta   `json:"meta"`
}

// Hit 是一次检索命中；Score 已截断到 [0,1]，越大越相关。
type Hit struct {
	Doc   Document `json:"doc"`
	Score float64  `json:"score"`
}

// Filter 限定检索范围；零值表示不过滤。
type Filter struct {
	// Title 按电影名精确匹配（大小写不敏感）。
	Title string
	// Type 按文档类型过滤（overview / review）。
	Type string
}

// Match 报告 m 是否满足过滤条件。
func (f Filter) Match(m Meta) bool {
	if f.Title != "" && !strings.EqualFold(strings.TrimSpace(f.Title), m.Title) {
		return false
	}
	if f.Type != "" && f.Type != m.Type {
		return false
	}
	return true
}

// Stats 是存储的汇总计数。
type Stats struct {
	TotalDocuments int `json:"total_documents"`
	Movies         int `json:"movies"`
	Reviews        int `json:"reviews"`
	// Sources 是评论文档按站点的计数。
	Sources map[string]int `json:"sources"`
}

// Count 把一条文档计入统计。
func (s *Stats) Count(m Meta) {
	s.TotalDocuments++
	switch m.Type {
	case TypeOverview:
		s.Movies++
	case TypeReview:
		s.Reviews++
		if s.Sources == nil {
			s.Sources = make(map[string]int)
		}
		src := m.Source
		if src == "" {
			src = "unknown"
		}
		s.Sources[src]++
	}
}

// Store 是文档向量存储。
//
// 约束：
// - 同一个存储中所有向量维度相同（第一次 Add 决定）
// - Query 结果按 Score 降序，同分保持写入顺序；k<=0 表示不限
// - 电影名匹配大小写不敏感
// - 实现必须可并发使用
type Store interface {
	Add(ctx context.Context, docs []Document, vectors [][]float64) error
	Query(ctx context.Context, vector []float64, f Filter, k int) ([]Hit, error)
	Documents(ctx context.Context, f Filter) ([]Document, error)
	// Titles 返回已收录电影（有 overview 文档）的名字，按字母序。
	Titles(ctx context.Context) ([]string, error)
	// DeleteTitle 删除该电影的全部文档，返回删除条数。
	DeleteTitle(ctx context.Context, title string) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// CheckBatch 校验一次 Add 的输入；dim 为存储现有维度（0 表示尚未确定），返回本批维度。
func CheckBatch(docs []Document, vectors [][]float64, dim int) (int, error) {
	if len(docs) != len(vectors) {
		return 0, fmt.Errorf("文档数 %d 与向量数 %d 不一致", len(docs), len(vectors))
	}
	for i, d := range docs {
		if strings.TrimSpace(d.ID) == "" {
			return 0, fmt.Errorf("第 %d 个文档缺少 ID", i)
		}
		if strings.TrimSpace(d.Meta.Title) == "" {
			return 0, fmt.Errorf("文档 %s 缺少 title", d.ID)
		}
		if len(vectors[i]) == 0 {
			return 0, fmt.Errorf("文档 %s 的向量为空", d.ID)
		}
		if dim == 0 {
			dim = len(vectors[i])
		}
		if len(vectors[i]) != dim {
			return 0, fmt.Errorf("%w：期望 %d，实际 %d", ErrDimension, dim, len(vectors[i]))
		}
	}
	return dim, nil
}

// Candidate 是参与排序的一条文档及其向量。
type Candidate struct {
	Doc    Document
	Vector []float64
}

// Rank 计算相似度并取前 k 条；输入顺序即同分时的先后。
func Rank(query []float64, cands []Candidate, k int) []Hit {
	hits := make([]Hit, 0, len(cands))
	for _, c := range cands {
		hits = append(hits, Hit{Doc: c.Doc, Score: clamp01(embedding.Cosine(query, c.Vector))})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
