// Package storetest 是 vectorstore.Store 实现共用的行为测试。
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/vectorstore"
)

// Run 对 open 返回的新存储逐项验证 Store 契约；每个子测试使用独立实例。
func Run(t *testing.T, open func(t *testing.T) vectorstore.Store) {
	t.Helper()
	t.Run("QueryRanksAndFilters", func(t *testing.T) { testQuery(t, open(t)) })
	t.Run("TitlesAndDelete", func(t *testing.T) { testTitlesAndDelete(t, open(t)) })
	t.Run("StatsAndClear", func(t *testing.T) { testStatsAndClear(t, open(t)) })
	t.Run("DimensionMismatch", func(t *testing.T) { testDimension(t, open(t)) })
	t.Run("MetaRoundTrip", func(t *testing.T) { testMeta(t, open(t)) })
}

func doc(id, title, typ, source, text string) vectorstore.Document {
	return vectorstore.Document{ID: id, Text: text, Meta: vectorstore.Meta{Title: title, Type: typ, Source: source}}
}

func seed(t *testing.T, s vectorstore.Store) {
	t.Helper()
	docs := []vectorstore.Document{
		doc("o1", "Inception", vectorstore.TypeOverview, "combined", "overview inception"),
		doc("r1", "Inception", vectorstore.TypeReview, "imdb", "dreams within dreams"),
		doc("r2", "Inception", vectorstore.TypeReview, "metacritic", "a heist film"),
		doc("o2", "Alien", vectorstore.TypeOverview, "combined", "overview alien"),
		doc("r3", "Alien", vectorstore.TypeReview, "imdb", "in space no one can hear"),
	}
	vecs := [][]float64{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
		{0, 0, 1},
		{0.9, 0.1, 0},
	}
	if err := s.Add(context.Background(), docs, vecs); err != nil {
		t.Fatalf("Add 不期望错误：%v", err)
	}
}

func ids(hits []vectorstore.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Doc.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testQuery(t *testing.T, s vectorstore.Store) {
	defer s.Close()
	seed(t, s)
	ctx := context.Background()

	hits, err := s.Query(ctx, []float64{1, 0, 0}, vectorstore.Filter{}, 3)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// r1 与 r3 同分，保持写入顺序。
	if want := []string{"o1", "r1", "r3"}; !equal(ids(hits), want) {
		t.Fatalf("期望 %v，实际 %v", want, ids(hits))
	}
	if hits[0].Score < 0.999 || hits[0].Score > 1 {
		t.Fatalf("相同方向应得满分，实际 %v", hits[0].Score)
	}
	for _, h := range hits {
		if h.Score < 0 || h.Score > 1 {
			t.Fatalf("Score 越界：%v", h.Score)
		}
	}

	hits, err = s.Query(ctx, []float64{1, 0, 0}, vectorstore.Filter{Title: "inception"}, 0)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if want := []string{"o1", "r1", "r2"}; !equal(ids(hits), want) {
		t.Fatalf("按电影名过滤：期望 %v，实际 %v", want, ids(hits))
	}

	hits, _ = s.Query(ctx, []float64{1, 0, 0}, vectorstore.Filter{Title: "Inception", Type: vectorstore.TypeReview}, 10)
	if want := []string{"r1", "r2"}; !equal(ids(hits), want) {
		t.Fatalf("按类型过滤：期望 %v，实际 %v", want, ids(hits))
	}

	hits, _ = s.Query(ctx, []float64{1, 0, 0}, vectorstore.Filter{Title: "Missing"}, 5)
	if len(hits) != 0 {
		t.Fatalf("不存在的电影应无结果，实际 %v", ids(hits))
	}

	docs, err := s.Documents(ctx, vectorstore.Filter{Title: "ALIEN"})
	if err != nil || len(docs) != 2 {
		t.Fatalf("Documents 期望 2 条，实际 %d %v", len(docs), err)
	}
}

func testTitlesAndDelete(t *testing.T, s vectorstore.Store) {
	defer s.Close()
	seed(t, s)
	ctx := context.Background()

	titles, err := s.Titles(ctx)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if want := []string{"Alien", "Inception"}; !equal(titles, want) {
		t.Fatalf("期望 %v，实际 %v", want, titles)
	}

	n, err := s.DeleteTitle(ctx, "INCEPTION")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if n != 3 {
		t.Fatalf("期望删除 3 条，实际 %d", n)
	}
	titles, _ = s.Titles(ctx)
	if want := []string{"Alien"}; !equal(titles, want) {
		t.Fatalf("删除后期望 %v，实际 %v", want, titles)
	}
	n, _ = s.DeleteTitle(ctx, "Inception")
	if n != 0 {
		t.Fatalf("重复删除应返回 0，实际 %d", n)
	}
}

func testStatsAndClear(t *testing.T, s vectorstore.Store) {
	defer s.Close()
	seed(t, s)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if st.TotalDocuments != 5 || st.Movies != 2 || st.Reviews != 3 {
		t.Fatalf("统计不符：%+v", st)
	}
	if st.Sources["imdb"] != 2 || st.Sources["metacritic"] != 1 || len(st.Sources) != 2 {
		t.Fatalf("站点统计不符：%v", st.Sources)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	st, _ = s.Stats(ctx)
	if st.TotalDocuments != 0 {
		t.Fatalf("Clear 后应为空：%+v", st)
	}
	// 清空后可以换维度。
	if err := s.Add(ctx, []vectorstore.Document{doc("x", "X", vectorstore.TypeOverview, "combined", "x")}, [][]float64{{1, 2}}); err != nil {
		t.Fatalf("清空后写入不期望错误：%v", err)
	}
}

func testDimension(t *testing.T, s vectorstore.Store) {
	defer s.Close()
	seed(t, s)
	ctx := context.Background()

	err := s.Add(ctx, []vectorstore.Document{doc("bad", "Bad", vectorstore.TypeReview, "imdb", "x")}, [][]float64{{1, 2}})
	if !errors.Is(err, vectorstore.ErrDimension) {
		t.Fatalf("期望 ErrDimension，实际 %v", err)
	}
	if _, err := s.Query(ctx, []float64{1, 2}, vectorstore.Filter{}, 1); !errors.Is(err, vectorstore.ErrDimension) {
		t.Fatalf("查询维度不符期望 ErrDimension，实际 %v", err)
	}
	if err := s.Add(ctx, []vectorstore.Document{doc("a", "A", vectorstore.TypeReview, "imdb", "x")}, nil); err == nil {
		t.Fatalf("文档与向量数量不一致应报错")
	}
}

func testMeta(t *testing.T, s vectorstore.Store) {
	defer s.Close()
	ctx := context.Background()
	published := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	added := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	in := vectorstore.Document{
		ID:   "r",
		Text: "A stunning piece of cinema.",
		Meta: vectorstore.Meta{
			Title: "Inception", Year: 2010, Type: vectorstore.TypeReview, Source: "imdb",
			Author: "alice", Rating: domain.Float(9), ReviewKind: domain.KindAudience,
			PublishedAt: published, HelpfulVotes: 12, AddedAt: added,
		},
	}
	if err := s.Add(ctx, []vectorstore.Document{in}, [][]float64{{0.5, 0.5}}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	hits, err := s.Query(ctx, []float64{0.5, 0.5}, vectorstore.Filter{}, 1)
	if err != nil || len(hits) != 1 {
		t.Fatalf("期望 1 条命中，实际 %d %v", len(hits), err)
	}
	got := hits[0].Doc
	if got.Text != in.Text || got.Meta.Author != "alice" || got.Meta.Year != 2010 || got.Meta.HelpfulVotes != 12 {
		t.Fatalf("元数据不符：%+v", got)
	}
	if got.Meta.Rating == nil || *got.Meta.Rating != 9 {
		t.Fatalf("rating 不符：%v", got.Meta.Rating)
	}
	if !got.Meta.PublishedAt.Equal(published) || !got.Meta.AddedAt.Equal(added) {
		t.Fatalf("时间不符：%v %v", got.Meta.PublishedAt, got.Meta.AddedAt)
	}
}
