package provider

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LDMovie 是页面内嵌 schema.org/Movie（application/ld+json）中用得到的部分。
// 三个站点都会输出这段结构化数据，比 DOM class 稳定，优先使用。
type LDMovie struct {
	Name        string
	Year        int
	Directors   []string
	Actors      []string
	Genres      []string
	Description string
	// Rating 已按 bestRating 归一化到 0–10；HasRating=false 表示页面没给。
	Rating    float64
	HasRating bool
}

type ldRaw struct {
	Type            json.RawMessage `json:"@type"`
	Name            string          `json:"name"`
	DatePublished   string          `json:"datePublished"`
	DateCreated     string          `json:"dateCreated"`
	Director        json.RawMessage `json:"director"`
	Actor           json.RawMessage `json:"actor"`
	Genre           json.RawMessage `json:"genre"`
	Description     string          `json:"description"`
	AggregateRating *struct {
		RatingValue json.RawMessage `json:"ratingValue"`
		BestRating  json.RawMessage `json:"bestRating"`
	} `json:"aggregateRating"`
}

// FindLDMovie 找到文档里第一段 @type 为 Movie 的 JSON-LD；没有时 ok=false。
func FindLDMovie(doc *goquery.Document) (LDMovie, bool) {
	var (
		out LDMovie
		ok  bool
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		for _, r := range decodeLD(raw) {
			if !hasType(r.Type, "Movie") {
				continue
			}
			out, ok = r.toMovie(), true
			return false
		}
		return true
	})
	return out, ok
}

// decodeLD 兼容单个对象、对象数组与 @graph 三种写法。
func decodeLD(raw string) []ldRaw {
	var one struct {
		ldRaw
		Graph []ldRaw `json:"@graph"`
	}
	if err := json.Unmarshal([]byte(raw), &one); err == nil {
		if len(one.Graph) > 0 {
			return one.Graph
		}
		return []ldRaw{one.ldRaw}
	}
	var many []ldRaw
	if err := json.Unmarshal([]byte(raw), &many); err == nil {
		return many
	}
	return nil
}

func (r ldRaw) toMovie() LDMovie {
	m := LDMovie{
		Name:        CleanText(r.Name),
		Directors:   NormList(names(r.Director), 0),
		Actors:      NormList(names(r.Actor), 0),
		Genres:      NormList(stringsOf(r.Genre), 0),
		Description: CleanText(r.Description),
	}
	m.Year = FirstYear(r.DatePublished)
	if m.Year == 0 {
		m.Year = FirstYear(r.DateCreated)
	}
	if ar := r.AggregateRating; ar != nil {
		v, okV := number(ar.RatingValue)
		best, okB := number(ar.BestRating)
		if okV {
			if !okB || best <= 0 {
				best = 10
			}
			if best == 10 {
				m.Rating = clampTen(v)
			} else {
				m.Rating = clampTen(v * 10 / best)
			}
			m.HasRating = true
		}
	}
	return m
}

func hasType(raw json.RawMessage, want string) bool {
	for _, t := range stringsOf(raw) {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// stringsOf 解析 "x" 或 ["x","y"]。
func stringsOf(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}
	}
	var ss []string
	if err := json.Unmarshal(raw, &ss); err == nil {
		return ss
	}
	return nil
}

// names 解析 {"name":..} 或 [{"name":..}]（也兼容纯字符串）。
func names(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	type named struct {
		Name string `json:"name"`
	}
	var one named
	if err := json.Unmarshal(raw, &one); err == nil && one.Name != "" {
		return []string{CleanText(one.Name)}
	}
	var many []named
	if err := json.Unmarshal(raw, &many); err == nil {
		out := make([]string, 0, len(many))
		for _, n := range many {
			out = append(out, CleanText(n.Name))
		}
		return out
	}
	return stringsOf(raw)
}

// number 解析 8.8 或 "8.8"。
func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return v, err == nil
	}
	return 0, false
}
