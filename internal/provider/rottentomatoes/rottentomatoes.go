package rottentomatoes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/infra/httpx"
	"github.com/John-Robertt/reelrag/internal/provider"
)

const (
	name         = "rottentomatoes"
	anonCritic   = "Anonymous Critic"
	anonUser     = "Anonymous User"
	minCriticLen = 20
)

// Provider 实现 Rotten Tomatoes 的搜索、元数据与评论解析。
//
// 约束：
// - 详情页 URL 形如 <base>/m/<slug>（不带结尾斜杠）
// - 评论预算一分为二：影评人评论来自详情页，观众评论来自 /reviews?type=user
// - 影评人只有 fresh/rotten 两档，分别记为 8.0 / 3.0
type Provider struct {
	// BaseURL 为空时使用 https://www.rottentomatoes.com。
	BaseURL string
}

func (Provider) Name() string { return name }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return "https://www.rottentomatoes.com"
	}
	return strings.TrimRight(u, "/")
}

func (p Provider) Search(ctx context.Context, f provider.Fetcher, title string, year int) (string, error) {
	q := strings.TrimSpace(title)
	if q == "" {
		return "", errors.New("title 不能为空")
	}
	if year > 0 {
		q += " " + strconv.Itoa(year)
	}
	if err := f.Pace(ctx); err != nil {
		return "", err
	}
	b, err := f.Fetch(ctx, p.baseURL()+"/search?search="+url.QueryEscape(q))
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

// Reviews 先取影评人评论（详情页），再取观众评论；两边各占 max/2。
// 一边失败不影响另一边；两边都失败时返回最后一个错误。
func (p Provider) Reviews(ctx context.Context, f provider.Fetcher, pageURL string, max int) ([]domain.ReviewRecord, error) {
	half := max / 2
	if half < 1 {
		half = 1
	}
	pageURL = strings.TrimRight(pageURL, "/")

	var (
		out  []domain.ReviewRecord
		errs []error
	)
	pages := []struct {
		url   string
		parse func([]byte, string, int) ([]domain.ReviewRecord, error)
	}{
		{pageURL, parseCriticReviews},
		{pageURL + "/reviews?type=user", parseAudienceReviews},
	}
	for _, pg := range pages {
		if err := f.Pace(ctx); err != nil {
			return nil, err
		}
		b, err := f.Fetch(ctx, pg.url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, httpx.ErrNoContent) {
				errs = append(errs, err)
			}
			continue
		}
		rs, err := pg.parse(b, pg.url, half)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rs...)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

var searchSelectors = []string{
	`a[href*="/m/"][data-qa="thumbnail-link"]`,
	`search-page-result[type="movie"] a[href*="/m/"]`,
	`a[href*="/m/"]`,
}

func parseSearch(html []byte, base string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]struct{})
	for _, sel := range searchSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			u := canonical(provider.ResolveURL(base+"/", href))
			if u == "" {
				return
			}
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

// canonical 把 .../m/<slug>/anything?x 截成 .../m/<slug>；不是电影页时返回空串。
func canonical(u string) string {
	pu, err := url.Parse(u)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(pu.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "m" || parts[1] == "" {
		return ""
	}
	pu.Path = "/m/" + parts[1]
	pu.RawQuery = ""
	pu.Fragment = ""
	return pu.String()
}

func parseMovie(html []byte, pageURL string) (domain.MovieRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.MovieRecord{}, err
	}
	ld, hasLD := provider.FindLDMovie(doc)

	var m domain.MovieRecord
	m.Title = firstText(doc.Selection, `h1[data-qa="score-panel-movie-title"]`, `rt-text[slot="title"]`, `h1[slot="titleIntro"]`)
	if m.Title == "" && hasLD {
		m.Title = ld.Name
	}
	if m.Title == "" {
		m.Title = provider.CleanText(doc.Find("h1").First().Text())
	}
	if m.Title == "" {
		return domain.MovieRecord{}, &provider.ParseError{URL: pageURL, Reason: "找不到标题"}
	}

	doc.Find(`span[data-qa="movie-info-item"], [data-qa="movie-info-item-value"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m.Year = provider.FirstYear(s.Text())
		return m.Year == 0
	})
	m.Director = firstText(doc.Selection, `a[data-qa="movie-info-director"]`)
	m.Genre = firstText(doc.Selection, `span[data-qa="movie-info-item-genre"]`)
	m.Synopsis = firstText(doc.Selection, `div[data-qa="movie-info-synopsis"]`, `[data-qa="synopsis-value"]`, `[data-qa="movie-info-synopsis"]`)

	var cast []string
	doc.Find(`[data-qa="cast-crew-item-link"] p, [data-qa="cast-crew-item"] [data-qa="cast-crew-item-name"]`).Each(func(_ int, s *goquery.Selection) {
		cast = append(cast, s.Text())
	})
	m.Cast = provider.NormList(cast, 5)

	if hasLD {
		if m.Year == 0 {
			m.Year = ld.Year
		}
		if m.Director == "" && len(ld.Directors) > 0 {
			m.Director = ld.Directors[0]
		}
		if m.Genre == "" {
			m.Genre = strings.Join(ld.Genres, ", ")
		}
		if m.Synopsis == "" {
			m.Synopsis = ld.Description
		}
		if len(m.Cast) == 0 {
			m.Cast = provider.NormList(ld.Actors, 5)
		}
	}

	m.Ratings = parseScores(doc)
	return m, nil
}

// parseScores 兼容旧版 <score-board tomatometerscore=".."> 与新版 media-scorecard。
func parseScores(doc *goquery.Document) map[string]float64 {
	out := make(map[string]float64)
	if sb := doc.Find("score-board").First(); sb.Length() > 0 {
		if v, ok := attrFloat(sb, "tomatometerscore"); ok {
			out["tomatometer"] = provider.PercentToTen(v)
		}
		if v, ok := attrFloat(sb, "audiencescore"); ok {
			out["audience"] = provider.PercentToTen(v)
		}
	}
	if _, ok := out["tomatometer"]; !ok {
		if v, ok := provider.ParseRating(doc.Find(`media-scorecard rt-text[slot="criticsScore"]`).First().Text()); ok {
			out["tomatometer"] = v
		}
	}
	if _, ok := out["audience"]; !ok {
		if v, ok := provider.ParseRating(doc.Find(`media-scorecard rt-text[slot="audienceScore"]`).First().Text()); ok {
			out["audience"] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func attrFloat(s *goquery.Selection, attr string) (float64, bool) {
	raw, ok := s.Attr(attr)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return v, err == nil
}

var criticRowSelectors = []string{
	`[data-qa="review-row"]`,
	"div.review-row",
	"div.review_table_row",
	`[data-testid="critics-review"]`,
}

func parseCriticReviews(html []byte, pageURL string, max int) ([]domain.ReviewRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}
	var rows *goquery.Selection
	for _, sel := range criticRowSelectors {
		if r := doc.Find(sel); r.Length() > 0 {
			rows = r
			break
		}
	}
	if rows == nil {
		return nil, nil
	}

	var out []domain.ReviewRecord
	rows.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(out) >= max {
			return false
		}
		content := substantialText(s, `[data-qa="review-text"]`, ".the_review", `[class*="review-text"]`, ".review-content", "p")
		if content == "" {
			return true
		}
		r := domain.ReviewRecord{
			Content:     content,
			Author:      firstText(s, `[data-qa="review-critic-name"]`, `[class*="critic-name"]`, `a[href*="/critics/"]`, ".display-name", ".author"),
			Source:      name,
			URL:         pageURL,
			Kind:        domain.KindCritic,
			PublishedAt: provider.ParseDate(firstText(s, `[data-qa="review-date"]`, ".review-date")),
		}
		if r.Author == "" {
			r.Author = anonCritic
		}
		if v, ok := freshness(s); ok {
			r.Rating = domain.Float(v)
		}
		if pub := firstText(s, `[data-qa="review-publication"]`, `[class*="publication"]`, ".subtle", ".source"); pub != "" {
			r.Meta = map[string]string{"publication": pub}
		}
		out = append(out, r)
		return true
	})
	return out, nil
}

// freshness 从图标 class 判断 fresh/rotten。
func freshness(s *goquery.Selection) (float64, bool) {
	var (
		v  float64
		ok bool
	)
	s.Find(`[data-qa="review-icon"], .review-icon, [class*="icon"], score-icon-critic`).EachWithBreak(func(_ int, ic *goquery.Selection) bool {
		cls, _ := ic.Attr("class")
		state, _ := ic.Attr("sentiment")
		txt := strings.ToLower(cls + " " + state)
		switch {
		case strings.Contains(txt, "fresh") || strings.Contains(txt, "positive"):
			v, ok = provider.FreshScore, true
		case strings.Contains(txt, "rotten") || strings.Contains(txt, "negative"):
			v, ok = provider.RottenScore, true
		}
		return !ok
	})
	return v, ok
}

func parseAudienceReviews(html []byte, pageURL string, max int) ([]domain.ReviewRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []domain.ReviewRecord
	doc.Find(`div[class*="audience-review"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(out) >= max {
			return false
		}
		content := provider.CleanText(s.Find(`p[class*="pre-wrap"], [data-qa="review-text"]`).First().Text())
		if content == "" {
			return true
		}
		r := domain.ReviewRecord{
			Content:     content,
			Author:      firstText(s, `span[class*="display-name"]`, `[data-qa="review-name"]`),
			Source:      name,
			URL:         pageURL,
			Kind:        domain.KindAudience,
			PublishedAt: provider.ParseDate(firstText(s, `[data-qa="review-duration"]`, `span[class*="duration"]`)),
		}
		if r.Author == "" {
			r.Author = anonUser
		}
		if sd := s.Find(`span[class*="star-display"]`).First(); sd.Length() > 0 {
			stars := float64(sd.Find("span.filled").Length()) + 0.5*float64(sd.Find("span.half").Length())
			r.Rating = domain.Float(provider.StarsToTen(stars))
		}
		out = append(out, r)
		return true
	})
	return out, nil
}

func firstText(s *goquery.Selection, sels ...string) string {
	for _, sel := range sels {
		if t := provider.CleanText(s.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// substantialText 返回第一个长度不少于 minCriticLen 的文本（过滤掉 "Full Review" 之类的短链）。
func substantialText(s *goquery.Selection, sels ...string) string {
	for _, sel := range sels {
		var hit string
		s.Find(sel).EachWithBreak(func(_ int, n *goquery.Selection) bool {
			if t := provider.CleanText(n.Text()); len(t) >= minCriticLen {
				hit = t
				return false
			}
			return true
		})
		if hit != "" {
			return hit
		}
	}
	return ""
}
