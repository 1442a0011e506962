// Package fusion 把多个站点的抓取结果合并为一条 MovieRecord。
package fusion

import (
	"strings"

	"github.com/John-Robertt/reelrag/internal/domain"
)

// Combine 按 results 的顺序合并所有成功结果。
//
// 规则：
// - 第一个成功结果作为基底（深拷贝，不修改输入）
// - year/director/genre/synopsis：只在基底为空时由后续结果补齐
// - cast：并集去重，基底顺序在前
// - ratings：key 并集，同名 key 后者覆盖
// - reviews：全部拼接后按日期降序稳定排序，无日期的排在最后
//
// 没有任何成功结果时返回 (nil, false)。
func Combine(results []domain.SourceResult) (*domain.MovieRecord, bool) {
	var base *domain.MovieRecord
	for i := range results {
		r := results[i]
		if !r.Success || r.Movie == nil {
			continue
		}
		if base == nil {
			m := r.Movie.Clone()
			base = &m
			if base.Reviews == nil {
				base.Reviews = []domain.ReviewRecord{}
			}
			continue
		}
		merge(base, r.Movie.Clone())
	}
	if base == nil {
		return nil, false
	}
	base.Cast = dedup(base.Cast)
	domain.SortReviewsNewestFirst(base.Reviews)
	return base, true
}

// CombineMap 与 Combine 相同，但输入是按站点名索引的 map；order 决定优先级。
// order 中不存在的 key 被忽略，map 中不在 order 里的结果也被忽略。
func CombineMap(results map[string]domain.SourceResult, order []string) (*domain.MovieRecord, bool) {
	ordered := make([]domain.SourceResult, 0, len(order))
	for _, name := range order {
		if r, ok := results[name]; ok {
			ordered = append(ordered, r)
		}
	}
	return Combine(ordered)
}

func merge(dst *domain.MovieRecord, src domain.MovieRecord) {
	if dst.Year == 0 {
		dst.Year = src.Year
	}
	if strings.TrimSpace(dst.Director) == "" {
		dst.Director = src.Director
	}
	if strings.TrimSpace(dst.Genre) == "" {
		dst.Genre = src.Genre
	}
	if strings.TrimSpace(dst.Synopsis) == "" {
		dst.Synopsis = src.Synopsis
	}
	dst.Cast = append(dst.Cast, src.Cast...)
	if len(src.Ratings) > 0 {
		if dst.Ratings == nil {
			dst.Ratings = make(map[string]float64, len(src.Ratings))
		}
		for k, v := range src.Ratings {
			dst.Ratings[k] = v
		}
	}
	dst.Reviews = append(dst.Reviews, src.Reviews...)
}

func dedup(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
