package domain

import (
	"sort"
	"strings"
	"time"
)

const (
	KindAudience = "audience"
	KindCritic   = "critic"
)

// ReviewRecord 是一条来自某个站点的评论（用户或影评人）。
//
// 约束：
// - Content 非空，Source 必填
// - Rating 为空表示站点没有给分；非空时已归一化到 0–10
// - PublishedAt 零值表示日期缺失（排序时视为最旧）
type ReviewRecord struct {
	Content      string            `json:"content"`
	Author       string            `json:"author"`
	Rating       *float64          `json:"rating,omitempty"`
	Source       string            `json:"source"`
	URL          string            `json:"url,omitempty"`
	PublishedAt  time.Time         `json:"published_at"`
	Kind         string            `json:"kind"`
	HelpfulVotes *int              `json:"helpful_votes,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// HasDate 报告该评论是否带发布日期。
func (r ReviewRecord) HasDate() bool { return !r.PublishedAt.IsZero() }

// MovieRecord 是一部电影的元数据与评论集合；Title 是存储层的身份键。
//
// 约束：
// - Year==0 表示未知
// - Cast 去重，单个站点最多提供 5 个
// - Ratings 的 key 是站点/口径名（imdb、tomatometer、metascore...），值已归一化到 0–10
type MovieRecord struct {
	Title    string             `json:"title"`
	Year     int                `json:"year,omitempty"`
	Director string             `json:"director,omitempty"`
	Cast     []string           `json:"cast,omitempty"`
	Genre    string             `json:"genre,omitempty"`
	Synopsis string             `json:"synopsis,omitempty"`
	Ratings  map[string]float64 `json:"ratings,omitempty"`
	Reviews  []ReviewRecord     `json:"reviews,omitempty"`
}

// Clone 返回深拷贝，调用方可以随意修改而不影响原记录。
func (m MovieRecord) Clone() MovieRecord {
	out := m
	if m.Cast != nil {
		out.Cast = append([]string(nil), m.Cast...)
	}
	if m.Ratings != nil {
		out.Ratings = make(map[string]float64, len(m.Ratings))
		for k, v := range m.Ratings {
			out.Ratings[k] = v
		}
	}
	if m.Reviews != nil {
		out.Reviews = make([]ReviewRecord, len(m.Reviews))
		for i, r := range m.Reviews {
			out.Reviews[i] = r.clone()
		}
	}
	return out
}

func (r ReviewRecord) clone() ReviewRecord {
	out := r
	if r.Rating != nil {
		v := *r.Rating
		out.Rating = &v
	}
	if r.HelpfulVotes != nil {
		v := *r.HelpfulVotes
		out.HelpfulVotes = &v
	}
	if r.Meta != nil {
		out.Meta = make(map[string]string, len(r.Meta))
		for k, v := range r.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// ReviewsBySource 按站点分组（保留组内原顺序）。
func (m MovieRecord) ReviewsBySource() map[string][]ReviewRecord {
	out := make(map[string][]ReviewRecord)
	for _, r := range m.Reviews {
		out[r.Source] = append(out[r.Source], r)
	}
	return out
}

// Sources 返回评论涉及的站点名（字典序、去重）。
func (m MovieRecord) Sources() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range m.Reviews {
		s := strings.TrimSpace(r.Source)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// AverageRating 计算有评分评论的平均分；没有任何评分时 ok=false。
func (m MovieRecord) AverageRating() (avg float64, ok bool) {
	var (
		sum float64
		n   int
	)
	for _, r := range m.Reviews {
		if r.Rating == nil {
			continue
		}
		sum += *r.Rating
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// SortReviewsNewestFirst 稳定排序：有日期的按时间降序，无日期的排在最后（组内保持原顺序）。
func SortReviewsNewestFirst(reviews []ReviewRecord) {
	sort.SliceStable(reviews, func(i, j int) bool {
		a, b := reviews[i], reviews[j]
		if !a.HasDate() {
			return false
		}
		if !b.HasDate() {
			return true
		}
		return a.PublishedAt.After(b.PublishedAt)
	})
}

// Float 是构造可选评分的小工具。
func Float(v float64) *float64 { return &v }

// Int 是构造可选整数的小工具。
func Int(v int) *int { return &v }
