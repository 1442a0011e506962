package imdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/infra/httpx"
	"github.com/John-Robertt/reelrag/internal/provider"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	return b
}

func TestParseSearch_DedupAndCanonical(t *testing.T) {
	got, err := parseSearch(readFixture(t, "search.html"), "https://www.imdb.com")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := []string{"https://www.imdb.com/title/tt1375666/", "https://www.imdb.com/title/tt5295894/"}
	if len(got) != len(want) {
		t.Fatalf("期望 %v，实际 %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("第 %d 个候选期望 %q，实际 %q", i, want[i], got[i])
		}
	}
}

func TestParseMovie_JSONLD(t *testing.T) {
	m, err := parseMovie(readFixture(t, "movie.html"), "https://www.imdb.com/title/tt1375666/")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if m.Title != "Inception" || m.Year != 2010 || m.Director != "Christopher Nolan" {
		t.Fatalf("基础字段不正确：%+v", m)
	}
	if m.Genre != "Action, Adventure, Sci-Fi" {
		t.Fatalf("genre 不正确：%q", m.Genre)
	}
	if len(m.Cast) != 3 || m.Cast[0] != "Leonardo DiCaprio" {
		t.Fatalf("cast 不正确：%v", m.Cast)
	}
	if m.Ratings["imdb"] != 8.8 {
		t.Fatalf("imdb 评分不正确：%v", m.Ratings)
	}
	if !strings.HasPrefix(m.Synopsis, "A thief who steals") {
		t.Fatalf("synopsis 不正确：%q", m.Synopsis)
	}
}

func TestParseMovie_DOMFallback(t *testing.T) {
	m, err := parseMovie(readFixture(t, "movie_dom.html"), "https://www.imdb.com/title/tt0133093/")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if m.Title != "The Matrix" || m.Year != 1999 || m.Director != "Lana Wachowski" {
		t.Fatalf("基础字段不正确：%+v", m)
	}
	if len(m.Cast) != 5 || m.Cast[4] != "Gloria Foster" {
		t.Fatalf("cast 应截到前 5 个：%v", m.Cast)
	}
	if m.Genre != "Action, Sci-Fi" {
		t.Fatalf("genre 应去重：%q", m.Genre)
	}
	if m.Ratings["imdb"] != 8.7 {
		t.Fatalf("imdb 评分不正确：%v", m.Ratings)
	}
	if !strings.HasPrefix(m.Synopsis, "When a beautiful stranger") {
		t.Fatalf("synopsis 不正确：%q", m.Synopsis)
	}
}

func TestParseMovie_NoTitleIsParseError(t *testing.T) {
	_, err := parseMovie([]byte("<html><body><p>nothing</p></body></html>"), "u")
	if _, ok := err.(*provider.ParseError); !ok {
		t.Fatalf("期望 *ParseError，实际 %T：%v", err, err)
	}
}

func TestParseReviews(t *testing.T) {
	rs, err := parseReviews(readFixture(t, "reviews.html"), "https://www.imdb.com/title/tt1375666/reviews/", 30)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(rs) != 3 {
		t.Fatalf("空正文应被跳过，期望 3 条，实际 %d", len(rs))
	}

	r := rs[0]
	if r.Author != "dreamer42" || r.Rating == nil || *r.Rating != 10 || r.Kind != domain.KindAudience || r.Source != "imdb" {
		t.Fatalf("第一条评论字段不正确：%+v", r)
	}
	if r.Content != "Nolan builds a maze of dreams and never loses the audience. Stunning." {
		t.Fatalf("正文不正确：%q", r.Content)
	}
	if !r.PublishedAt.Equal(time.Date(2020, 7, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("日期不正确：%v", r.PublishedAt)
	}
	if r.HelpfulVotes == nil || *r.HelpfulVotes != 1024 {
		t.Fatalf("helpful votes 不正确：%v", r.HelpfulVotes)
	}
	if r.Meta["headline"] != "A masterpiece" {
		t.Fatalf("headline 不正确：%v", r.Meta)
	}

	if rs[1].Author != anonAuthor || rs[1].Rating != nil || rs[1].HasDate() {
		t.Fatalf("缺字段的评论应保持零值：%+v", rs[1])
	}

	limited, _ := parseReviews(readFixture(t, "reviews.html"), "u", 2)
	if len(limited) != 2 {
		t.Fatalf("max=2 时期望 2 条，实际 %d", len(limited))
	}
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/find", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(readFixture(t, "search.html"))
	})
	mux.HandleFunc("/title/tt1375666/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(readFixture(t, "movie.html"))
	})
	mux.HandleFunc("/title/tt1375666/reviews/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(readFixture(t, "reviews.html"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() domain.FetchConfig {
	cfg := domain.DefaultFetchConfig()
	cfg.Delay = 0
	cfg.Timeout = 5 * time.Second
	cfg.MaxRetries = 1
	return cfg
}

func TestScrape_EndToEnd(t *testing.T) {
	srv := newSite(t)
	p := Provider{BaseURL: srv.URL}

	res := provider.Scrape(context.Background(), p, provider.HTTPOpener(httpx.Options{}), "Inception", 2010, testConfig(), nil)
	if !res.Success {
		t.Fatalf("期望成功，实际：%+v", res)
	}
	if res.Source != "imdb" || res.Movie.Title != "Inception" || res.ReviewCount != 3 {
		t.Fatalf("结果不正确：%+v", res)
	}
}

func TestScrape_ValidationRejectsWrongMovie(t *testing.T) {
	srv := newSite(t)
	p := Provider{BaseURL: srv.URL}

	// 两个候选：tt1375666 标题不符，tt5295894 详情页 404。
	res := provider.Scrape(context.Background(), p, provider.HTTPOpener(httpx.Options{}), "Interstellar", 2014, testConfig(), nil)
	if res.Success || res.Error != provider.NotFoundMsg {
		t.Fatalf("期望 Movie not found，实际：%+v", res)
	}
}

func TestReviews_FallsBackToLocalizedPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pt/title/tt1375666/reviews/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(readFixture(t, "reviews.html"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := httpx.NewSession(testConfig(), httpx.Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	defer s.Close()

	rs, err := Provider{BaseURL: srv.URL}.Reviews(context.Background(), s, srv.URL+"/title/tt1375666/", 30)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(rs) != 3 || !strings.Contains(rs[0].URL, "/pt/title/") {
		t.Fatalf("应回退到本地化评论页：%d %+v", len(rs), rs)
	}
}
