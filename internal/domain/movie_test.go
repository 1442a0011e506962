package domain

import (
	"testing"
	"time"
)

func TestSortReviewsNewestFirst_UndatedLast(t *testing.T) {
	rs := []ReviewRecord{
		{Content: "none-1", Source: "a"},
		{Content: "2020", Source: "a", PublishedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Content: "none-2", Source: "b"},
		{Content: "2021", Source: "b", PublishedAt: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	SortReviewsNewestFirst(rs)

	want := []string{"2021", "2020", "none-1", "none-2"}
	for i, w := range want {
		if rs[i].Content != w {
			t.Fatalf("第 %d 条期望 %q，实际 %q", i, w, rs[i].Content)
		}
	}
}

func TestMovieRecord_CloneIsDeep(t *testing.T) {
	m := MovieRecord{
		Title:   "X",
		Cast:    []string{"a"},
		Ratings: map[string]float64{"imdb": 8},
		Reviews: []ReviewRecord{{Content: "c", Source: "imdb", Rating: Float(7), Meta: map[string]string{"k": "v"}}},
	}
	c := m.Clone()
	c.Cast[0] = "b"
	c.Ratings["imdb"] = 1
	*c.Reviews[0].Rating = 1
	c.Reviews[0].Meta["k"] = "x"

	if m.Cast[0] != "a" || m.Ratings["imdb"] != 8 || *m.Reviews[0].Rating != 7 || m.Reviews[0].Meta["k"] != "v" {
		t.Fatalf("Clone 不是深拷贝：%+v", m)
	}
}

func TestMovieRecord_AverageRatingAndSources(t *testing.T) {
	m := MovieRecord{Reviews: []ReviewRecord{
		{Content: "a", Source: "rottentomatoes", Rating: Float(8)},
		{Content: "b", Source: "imdb", Rating: Float(6)},
		{Content: "c", Source: "imdb"},
	}}
	avg, ok := m.AverageRating()
	if !ok || avg != 7 {
		t.Fatalf("期望平均分 7，实际 %v ok=%v", avg, ok)
	}
	src := m.Sources()
	if len(src) != 2 || src[0] != "imdb" || src[1] != "rottentomatoes" {
		t.Fatalf("Sources 不正确：%v", src)
	}
	if got := len(m.ReviewsBySource()["imdb"]); got != 2 {
		t.Fatalf("期望 imdb 2 条，实际 %d", got)
	}
	if _, ok := (MovieRecord{}).AverageRating(); ok {
		t.Fatalf("无评分时应返回 ok=false")
	}
}

func TestFetchConfig_Validate(t *testing.T) {
	if err := DefaultFetchConfig().Validate(); err != nil {
		t.Fatalf("默认配置不应报错：%v", err)
	}
	cases := []func(*FetchConfig){
		func(c *FetchConfig) { c.Delay = -time.Second },
		func(c *FetchConfig) { c.Timeout = 0 },
		func(c *FetchConfig) { c.MaxRetries = 0 },
		func(c *FetchConfig) { c.MaxReviews = 0 },
		func(c *FetchConfig) { c.UserAgent = "bot\r\nX-Evil: 1" },
	}
	for i, mut := range cases {
		c := DefaultFetchConfig()
		mut(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d：期望错误，但得到 nil", i)
		}
	}

	for _, ua := range []string{"", " ", RandomUserAgent, "RANDOM"} {
		c := DefaultFetchConfig()
		c.UserAgent = ua
		if err := c.Validate(); err != nil {
			t.Fatalf("UA %q 表示轮换，不应报错：%v", ua, err)
		}
	}
}
