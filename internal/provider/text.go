package provider

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// strict 去掉所有标签，只保留文本（站点的评论正文有时夹带 <br>/<i> 等标记）。
var strict = bluemonday.StrictPolicy()

// CleanText 去标签、解实体、折叠空白。
func CleanText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if strings.ContainsAny(s, "<>") {
		s = strings.NewReplacer("<br>", " ", "<br/>", " ", "<br />", " ").Replace(s)
		s = strict.Sanitize(s)
	}
	return NormSpace(html.UnescapeString(s))
}

// NormSpace 折叠所有空白为单个空格并去掉首尾空白。
func NormSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ResolveURL 把站点内的相对链接解析为绝对 URL。
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	hu, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(hu).String()
}

var (
	reYear = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})\b`)
	reInt  = regexp.MustCompile(`\d+`)
)

// FirstYear 提取文本中第一个看起来像年份的四位数；没有时返回 0。
func FirstYear(s string) int {
	m := reYear.FindString(s)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}

// FirstInt 提取文本中第一个整数；没有时 ok=false。
func FirstInt(s string) (int, bool) {
	m := reInt.FindString(strings.ReplaceAll(s, ",", ""))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
	"Jan 2 2006",
	"02 Jan 2006",
	"1/2/2006",
}

// ParseDate 尝试用常见版式解析站点上的日期文本；失败时返回零值。
func ParseDate(s string) time.Time {
	s = NormSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// NormList 去空、去重（保持首次出现顺序），可选截断到 max（max<=0 表示不截断）。
func NormList(in []string, max int) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = NormSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if max > 0 && len(out) == max {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
