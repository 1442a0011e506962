package metacritic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/infra/httpx"
	"github.com/John-Robertt/reelrag/internal/provider"
)

const (
	name       = "metacritic"
	maxCast    = 5
	anonCritic = "Anonymous Critic"
	anonUser   = "Anonymous User"
)

var reHelpful = regexp.MustCompile(`(\d+)\s+of\s+(\d+)`)

// Provider 实现 Metacritic 的搜索、元数据与评论解析。
//
// 约束：
// - 搜索页没有内容时，按标题拼出 /movie/<slug> 作为唯一候选（仍需校验）
// - 影评人分数是 0–100，用户分数是 0–10，统一归一化到 0–10
type Provider struct {
	// BaseURL 为空时使用 https://www.metacritic.com。
	BaseURL string
}

func (Provider) Name() string { return name }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return "https://www.metacritic.com"
	}
	return strings.TrimRight(u, "/")
}

// Slug 把标题转为站点 URL 片段："Star Wars: A New Hope" -> "star-wars-a-new-hope"。
func Slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case r == '\'' || r == '’' || r == ':' || r == '.':
			// 直接丢弃
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func (p Provider) Search(ctx context.Context, f provider.Fetcher, title string, year int) (string, error) {
	slug := Slug(title)
	if slug == "" {
		return "", errors.New("title 不能为空")
	}
	if err := f.Pace(ctx); err != nil {
		return "", err
	}
	b, err := f.Fetch(ctx, p.baseURL()+"/search/movie/"+url.PathEscape(slug)+"/results")
	var cands []string
	switch {
	case err == nil:
		if cands, err = parseSearch(b, p.baseURL()); err != nil {
			return "", err
		}
	case errors.Is(err, httpx.ErrNoContent):
		cands = []string{p.baseURL() + "/movie/" + slug}
	default:
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

// Reviews 先取影评人评论，再取用户评论；两边各占 max/2。
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
	for _, kind := range []string{domain.KindCritic, domain.KindAudience} {
		u := pageURL + "/critic-reviews"
		if kind == domain.KindAudience {
			u = pageURL + "/user-reviews"
		}
		if err := f.Pace(ctx); err != nil {
			return nil, err
		}
		b, err := f.Fetch(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, httpx.ErrNoContent) {
				errs = append(errs, err)
			}
			continue
		}
		rs, err := parseReviews(b, u, kind, half)
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

func parseSearch(html []byte, base string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]struct{})
	doc.Find(`div.result_wrap a[href*="/movie/"], [data-testid="search-result-item"] a[href*="/movie/"]`).Each(func(_ int, s *goquery.Selection) {
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
	return out, nil
}

// canonical 把 .../movie/<slug>/anything 截成 .../movie/<slug>。
func canonical(u string) string {
	pu, err := url.Parse(u)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(pu.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "movie" || parts[1] == "" {
		return ""
	}
	pu.Path = "/movie/" + parts[1]
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
	m.Title = provider.CleanText(doc.Find("h1.product_page_title, div.product_page_title h1").First().Text())
	if m.Title == "" && hasLD {
		m.Title = ld.Name
	}
	if m.Title == "" {
		m.Title = provider.CleanText(doc.Find("h1").First().Text())
	}
	if m.Title == "" {
		return domain.MovieRecord{}, &provider.ParseError{URL: pageURL, Reason: "找不到标题"}
	}

	m.Year = provider.FirstYear(doc.Find("span.release_year").First().Text())
	m.Director = labeledLink(doc, "Director")
	m.Genre = labeledText(doc, "Genre")

	var cast []string
	doc.Find("div.summary_cast a").Each(func(_ int, s *goquery.Selection) {
		cast = append(cast, s.Text())
	})
	m.Cast = provider.NormList(cast, maxCast)
	if deck := doc.Find("div.summary_deck").First(); deck.Length() > 0 {
		label := provider.NormSpace(deck.Find("span.label").First().Text())
		m.Synopsis = strings.TrimSpace(strings.TrimPrefix(provider.CleanText(deck.Text()), label))
	}

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
		if len(m.Cast) == 0 {
			m.Cast = provider.NormList(ld.Actors, maxCast)
		}
		if m.Synopsis == "" {
			m.Synopsis = ld.Description
		}
	}

	ratings := make(map[string]float64)
	// 第一个 metascore_w 是影评人综合分（0–100），user_score 区块内的是用户分（0–10）。
	if v, ok := scoreOf(doc.Find("div.metascore_w").Not("div.user_score div.metascore_w").First().Text()); ok {
		ratings["metascore"] = provider.PercentToTen(v)
	} else if hasLD && ld.HasRating {
		ratings["metascore"] = ld.Rating
	}
	if v, ok := scoreOf(doc.Find("div.user_score div.metascore_w").First().Text()); ok && v <= 10 {
		ratings["user_score"] = v
	}
	if len(ratings) > 0 {
		m.Ratings = ratings
	}
	return m, nil
}

func scoreOf(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

// labeledLink 找到形如 <span>Director:</span> <a>X</a> 的块并返回第一个链接文本。
func labeledLink(doc *goquery.Document, label string) string {
	var out string
	doc.Find("span.label, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.HasPrefix(provider.NormSpace(s.Text()), label) {
			return true
		}
		out = provider.CleanText(s.Parent().Find("a").First().Text())
		return out == ""
	})
	return out
}

// labeledText 找到形如 <span>Genre(s):</span> <span>A, B</span> 的块并返回去掉标签后的文本。
func labeledText(doc *goquery.Document, label string) string {
	var out string
	doc.Find("span.label, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		lt := provider.NormSpace(s.Text())
		if !strings.HasPrefix(lt, label) || !strings.HasSuffix(lt, ":") {
			return true
		}
		full := provider.NormSpace(s.Parent().Text())
		out = strings.TrimSpace(strings.TrimPrefix(full, lt))
		return out == ""
	})
	return provider.NormSpace(out)
}

func parseReviews(html []byte, pageURL, kind string, max int) ([]domain.ReviewRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []domain.ReviewRecord
	doc.Find("div.review_section").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(out) >= max {
			return false
		}
		body := s.Find("div.review_body").First()
		// 用户评论的长文会折叠为 blurb_expanded，优先取完整版。
		content := provider.CleanText(body.Find(".blurb_expanded").First().Text())
		if content == "" {
			content = provider.CleanText(body.Text())
		}
		if content == "" {
			return true
		}
		r := domain.ReviewRecord{
			Content:     content,
			Source:      name,
			URL:         pageURL,
			Kind:        kind,
			PublishedAt: provider.ParseDate(s.Find("div.review_date, span.date").First().Text()),
		}
		grade := strings.TrimSpace(s.Find("div.review_grade").First().Text())
		if kind == domain.KindCritic {
			critic := s.Find("div.review_critic").First()
			r.Author = provider.CleanText(critic.Find("a").First().Text())
			if r.Author == "" {
				r.Author = anonCritic
			}
			if pub := provider.CleanText(critic.Find("em, .source").First().Text()); pub != "" {
				r.Meta = map[string]string{"publication": pub}
			}
			if v, ok := provider.ParseRating(grade); ok {
				r.Rating = domain.Float(v)
			}
		} else {
			r.Author = provider.CleanText(s.Find("div.review_username a, span.author").First().Text())
			if r.Author == "" {
				r.Author = anonUser
			}
			if v, err := strconv.ParseFloat(grade, 64); err == nil && v >= 0 && v <= 10 {
				r.Rating = domain.Float(v)
			}
			if m := reHelpful.FindStringSubmatch(s.Find("span.helpful_summary").First().Text()); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					r.HelpfulVotes = domain.Int(n)
				}
			}
		}
		out = append(out, r)
		return true
	})
	return out, nil
}
