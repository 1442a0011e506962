package rag

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/vectorstore"
)

const (
	// MinReviewChars 以下的评论不入库。
	MinReviewChars = 20
	// SourceCombined 是 overview 文档的 source 值。
	SourceCombined = "combined"
	overviewCast   = 5
)

// OverviewText 把电影元数据拼成一段可检索的概览文本。
func OverviewText(m domain.MovieRecord) string {
	parts := []string{"Movie: " + m.Title}
	if m.Year > 0 {
		parts = append(parts, fmt.Sprintf("Year: %d", m.Year))
	}
	if m.Director != "" {
		parts = append(parts, "Director: "+m.Director)
	}
	if m.Genre != "" {
		parts = append(parts, "Genre: "+m.Genre)
	}
	if len(m.Cast) > 0 {
		cast := m.Cast
		if len(cast) > overviewCast {
			cast = cast[:overviewCast]
		}
		parts = append(parts, "Cast: "+strings.Join(cast, ", "))
	}
	if m.Synopsis != "" {
		parts = append(parts, "Plot: "+m.Synopsis)
	}
	if len(m.Ratings) > 0 {
		keys := make([]string, 0, len(m.Ratings))
		for k := range m.Ratings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rs := make([]string, len(keys))
		for i, k := range keys {
			rs[i] = fmt.Sprintf("%s: %s", k, formatScore(m.Ratings[k]))
		}
		parts = append(parts, "Ratings: "+strings.Join(rs, ", "))
	}
	if len(m.Reviews) > 0 {
		parts = append(parts, fmt.Sprintf("Reviews: %d reviews from %s", len(m.Reviews), strings.Join(m.Sources(), ", ")))
	}
	return strings.Join(parts, " | ")
}

// BuildDocuments 为一部电影生成一条 overview 文档和每条足够长的评论文档。
func BuildDocuments(m domain.MovieRecord, now time.Time) []vectorstore.Document {
	title := strings.TrimSpace(m.Title)
	docs := []vectorstore.Document{{
		ID:   uuid.NewString(),
		Text: OverviewText(m),
		Meta: vectorstore.Meta{
			Title:    title,
			Year:     m.Year,
			Type:     vectorstore.TypeOverview,
			Source:   SourceCombined,
			Director: m.Director,
			Genre:    m.Genre,
			AddedAt:  now,
		},
	}}
	for _, r := range m.Reviews {
		text := strings.TrimSpace(r.Content)
		if utf8.RuneCountInString(text) < MinReviewChars {
			continue
		}
		meta := vectorstore.Meta{
			Title:       title,
			Year:        m.Year,
			Type:        vectorstore.TypeReview,
			Source:      r.Source,
			Author:      r.Author,
			Rating:      r.Rating,
			ReviewKind:  r.Kind,
			PublishedAt: r.PublishedAt,
			AddedAt:     now,
		}
		if r.HelpfulVotes != nil {
			meta.HelpfulVotes = *r.HelpfulVotes
		}
		docs = append(docs, vectorstore.Document{ID: uuid.NewString(), Text: text, Meta: meta})
	}
	return docs
}

func formatScore(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	return strings.TrimSuffix(s, ".0")
}
