package provider

import (
	"strings"
	"unicode"
)

// 开头的冠词在比较前去掉（"The Matrix" == "Matrix"）。
var leadingArticles = []string{"the ", "a ", "an "}

// 这些词不计入“共享的有效词”。
var insignificant = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "and": {}, "in": {}, "on": {}, "to": {}, "&": {},
}

// NormalizeTitle 小写、标点转空格、折叠空白，并去掉开头冠词。
func NormalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		if r == '\'' || r == '’' {
			return -1
		}
		return ' '
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	for _, a := range leadingArticles {
		if strings.HasPrefix(s, a) {
			s = s[len(a):]
			break
		}
	}
	return s
}

// TitleMatches 判断站点标题 got 是否对应用户请求的 want：
// 规范化后相等、互相包含，或至少共享 2 个有效词。
func TitleMatches(want, got string) bool {
	w, g := NormalizeTitle(want), NormalizeTitle(got)
	if w == "" || g == "" {
		return false
	}
	if strings.Contains(g, w) || strings.Contains(w, g) {
		return true
	}
	return sharedWords(w, g) >= 2
}

func sharedWords(a, b string) int {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(a) {
		if _, skip := insignificant[t]; skip {
			continue
		}
		set[t] = struct{}{}
	}
	n := 0
	seen := make(map[string]struct{})
	for _, t := range strings.Fields(b) {
		if _, ok := set[t]; !ok {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		n++
	}
	return n
}

// YearMatches 两边都已知时要求相差不超过 2 年；任一未知（0）视为匹配。
func YearMatches(want, got int) bool {
	if want == 0 || got == 0 {
		return true
	}
	d := want - got
	if d < 0 {
		d = -d
	}
	return d <= 2
}
