package imdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/infra/httpx"
	"github.com/John-Robertt/reelrag/internal/provider"
)

const (
	name       = "imdb"
	maxCast    = 5
	anonAuthor = "Anonymous User"
)

var reTitleID = regexp.MustCompile(`/title/(tt\d+)`)

// Provider 实现 IMDb 的搜索、元数据与用户评论解析。
//
// 约束：
// - 详情页 URL 统一规范为 <base>/title/ttNNN/
// - 评论只取用户评论（audience），分数是 x/10
type Provider struct {
	// BaseURL 为空时使用 https://www.imdb.com；测试指向 httptest。
	BaseURL string
}

func (Provider) Name() string { return name }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return "https://www.imdb.com"
	}
	return strings.TrimRight(u, "/")
}

// Search 使用 /find?q=<title year>&s=tt&ttype=ft，逐个校验结果。
func (p Provider) Search(ctx context.Context, f provider.Fetcher, title string, year int) (string, error) {
	q := strings.TrimSpace(title)
	if q == "" {
		return "", errors.New("title 不能为空")
	}
	if year > 0 {
		q += " " + strconv.Itoa(year)
	}
	searchURL := p.baseURL() + "/find?q=" + url.QueryEscape(q) + "&s=tt&ttype=ft"

	if err := f.Pace(ctx); err != nil {
		return "", err
	}
	b, err := f.Fetch(ctx, searchURL)
	if err != nil {
		if errors.Is(err, httpx.ErrNoContent) {
			return "", provider.ErrNotFound
		}
		return "", err
	}
	cands, err := parseSearch(b, p.baseURL())
	if err != nil {
		return "", err
	}
	return provider.FirstMatch(ctx, p, f, cands, title, year)
}

func (p Provider) Metadata(ctx context.Context, f provider.Fetcher, pageURL string) (domain.MovieRecord, error) {
	b, err := f.Fetch(ctx, pageURL)
	if err != nil {
		return domain.MovieRecord{}, fmt.Errorf("无法获取详情页：%w", err)
	}
	return parseMovie(b, pageURL)
}

// Reviews 依次尝试国际版与本地化评论页，取第一个有内容的。
func (p Provider) Reviews(ctx context.Context, f provider.Fetcher, pageURL string, max int) ([]domain.ReviewRecord, error) {
	m := reTitleID.FindStringSubmatch(pageURL)
	if m == nil {
		return nil, nil
	}
	id := m[1]
	urls := []string{
		p.baseURL() + "/title/" + id + "/reviews/",
		p.baseURL() + "/pt/title/" + id + "/reviews/",
	}

	var lastErr error
	for _, u := range urls {
		if err := f.Pace(ctx); err != nil {
			return nil, err
		}
		b, err := f.Fetch(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, httpx.ErrNoContent) {
				lastErr = err
			}
			continue
		}
		return parseReviews(b, u, max)
	}
	return nil, lastErr
}

var searchSelectors = []string{
	"td.result_text",
	`[data-testid="find-results-section-title"] li`,
	`[data-testid="find-result-section-title"] li`,
	".findResult",
	"li.find-result-item",
}

// parseSearch 返回搜索结果里的详情页 URL（去重、保持页面顺序）。
func parseSearch(html []byte, base string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]struct{})
	for _, sel := range searchSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Find(`a[href*="/title/"]`).First().Attr("href")
			if !ok {
				return
			}
			m := reTitleID.FindStringSubmatch(href)
			if m == nil {
				return
			}
			u := base + "/title/" + m[1] + "/"
			if _, dup := seen[u]; dup {
				return
			}
			seen[u] = struct{}{}
			out = append(out, u)
		})
		if len(out) > 0 {
			break
		}
	}
	return out, nil
}

// parseMovie 优先使用 JSON-LD，缺失的字段再从 DOM 里补。
func parseMovie(html []byte, pageURL string) (domain.MovieRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.MovieRecord{}, err
	}

	var m domain.MovieRecord
	ld, hasLD := provider.FindLDMovie(doc)

	m.Title = provider.CleanText(doc.Find(`h1[data-testid="hero__pageTitle"]`).First().Text())
	if m.Title == "" && hasLD {
		m.Title = ld.Name
	}
	if m.Title == "" {
		m.Title = provider.CleanText(doc.Find("h1").First().Text())
	}
	if m.Title == "" {
		return domain.MovieRecord{}, &provider.ParseError{URL: pageURL, Reason: "找不到标题"}
	}

	if hasLD {
		m.Year = ld.Year
		if len(ld.Directors) > 0 {
			m.Director = ld.Directors[0]
		}
		m.Cast = provider.NormList(ld.Actors, maxCast)
		m.Genre = strings.Join(ld.Genres, ", ")
		m.Synopsis = ld.Description
		if ld.HasRating {
			m.Ratings = map[string]float64{"imdb": ld.Rating}
		}
	}

	if m.Year == 0 {
		m.Year = provider.FirstYear(doc.Find(`a[href*="releaseinfo"]`).First().Text())
	}
	if m.Director == "" {
		m.Director = provider.CleanText(doc.Find("a.ipc-metadata-list-item__list-content-item").First().Text())
	}
	if len(m.Cast) == 0 {
		var cast []string
		doc.Find(`section[data-testid="title-cast"] a[data-testid="title-cast-item__actor"]`).Each(func(_ int, s *goquery.Selection) {
			cast = append(cast, s.Text())
		})
		m.Cast = provider.NormList(cast, maxCast)
	}
	if m.Genre == "" {
		var gs []string
		doc.Find(`div[data-testid="genres"] a`).Each(func(_ int, s *goquery.Selection) {
			gs = append(gs, s.Text())
		})
		m.Genre = strings.Join(provider.NormList(gs, 0), ", ")
	}
	if m.Synopsis == "" {
		for _, sel := range []string{`span[data-testid="plot-xl"]`, `span[data-testid="plot-l"]`, `span[data-testid="plot-summary"]`} {
			if t := provider.CleanText(doc.Find(sel).First().Text()); t != "" {
				m.Synopsis = t
				break
			}
		}
	}
	if m.Ratings == nil {
		txt := doc.Find(`[data-testid="hero-rating-bar__aggregate-rating__score"] span`).First().Text()
		if v, err := strconv.ParseFloat(strings.TrimSpace(txt), 64); err == nil {
			m.Ratings = map[string]float64{"imdb": v}
		}
	}
	return m, nil
}

var (
	containerSelectors = []string{
		"div.review-container",
		`div[data-testid="review-container"]`,
		"article.user-review-item",
		"div.lister-item",
	}
	contentSelectors = []string{
		"div.text.show-more__control",
		"div.text",
		`[data-testid="review-overflow"]`,
		`[data-testid="review-summary"]`,
		".content",
	}
	authorSelectors = []string{
		".display-name-link a",
		`[data-testid="author-link"]`,
		`[data-testid="author-name"]`,
		".author a",
	}
	ratingSelectors = []string{
		".rating-other-user-rating span",
		`[data-testid="review-rating"]`,
		".ipc-rating-star--rating",
		".ipl-ratings-bar span",
	}
	dateSelectors = []string{
		".review-date",
		`[data-testid="review-date"]`,
		"li.review-date",
		".date",
	}
)

func parseReviews(html []byte, pageURL string, max int) ([]domain.ReviewRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	var containers *goquery.Selection
	for _, sel := range containerSelectors {
		if c := doc.Find(sel); c.Length() > 0 {
			containers = c
			break
		}
	}
	if containers == nil {
		return nil, nil
	}

	var out []domain.ReviewRecord
	containers.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if max > 0 && len(out) >= max {
			return false
		}
		content := firstText(s, contentSelectors)
		if content == "" {
			return true
		}
		r := domain.ReviewRecord{
			Content:     content,
			Author:      firstText(s, authorSelectors),
			Source:      name,
			URL:         pageURL,
			Kind:        domain.KindAudience,
			PublishedAt: provider.ParseDate(firstText(s, dateSelectors)),
		}
		if r.Author == "" {
			r.Author = anonAuthor
		}
		if n, ok := provider.FirstInt(firstText(s, ratingSelectors)); ok && n <= 10 {
			r.Rating = domain.Float(float64(n))
		}
		if t := provider.CleanText(s.Find("a.title, .title").First().Text()); t != "" {
			r.Meta = map[string]string{"headline": t}
		}
		if n, ok := helpfulVotes(s.Find(".actions, .ipc-voting").First().Text()); ok {
			r.HelpfulVotes = domain.Int(n)
		}
		out = append(out, r)
		return true
	})
	return out, nil
}

func firstText(s *goquery.Selection, sels []string) string {
	for _, sel := range sels {
		if t := provider.CleanText(s.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// helpfulVotes 解析 "123 out of 150 found this helpful."。
func helpfulVotes(s string) (int, bool) {
	if !strings.Contains(s, "found this helpful") {
		return 0, false
	}
	return provider.FirstInt(s)
}
