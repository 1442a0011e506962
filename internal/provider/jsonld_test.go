package provider

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestFindLDMovie(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">{"@type":"Organization","name":"IMDb"}</script>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Movie","name":"Inception",
 "datePublished":"2010-07-16","genre":["Action","Sci-Fi"],
 "director":[{"@type":"Person","name":"Christopher Nolan"}],
 "actor":[{"name":"Leonardo DiCaprio"},{"name":"Joseph Gordon-Levitt"}],
 "description":"A thief who steals corporate secrets &amp; more.",
 "aggregateRating":{"ratingValue":"87","bestRating":100}}</script>
</head><body></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	m, ok := FindLDMovie(doc)
	if !ok {
		t.Fatalf("期望找到 Movie JSON-LD")
	}
	if m.Name != "Inception" || m.Year != 2010 {
		t.Fatalf("name/year 不正确：%+v", m)
	}
	if len(m.Directors) != 1 || m.Directors[0] != "Christopher Nolan" {
		t.Fatalf("director 不正确：%v", m.Directors)
	}
	if len(m.Actors) != 2 || len(m.Genres) != 2 {
		t.Fatalf("actor/genre 不正确：%v %v", m.Actors, m.Genres)
	}
	if !m.HasRating || m.Rating != 8.7 {
		t.Fatalf("rating 应按 bestRating 归一化为 8.7，实际 %v", m.Rating)
	}
	if m.Description != "A thief who steals corporate secrets & more." {
		t.Fatalf("description 不正确：%q", m.Description)
	}
}

func TestFindLDMovie_Graph(t *testing.T) {
	html := `<script type="application/ld+json">{"@graph":[{"@type":"WebPage"},{"@type":["Movie"],"name":"Dune","director":{"name":"Denis Villeneuve"},"genre":"Sci-Fi"}]}</script>`
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(html))
	m, ok := FindLDMovie(doc)
	if !ok || m.Name != "Dune" || m.Directors[0] != "Denis Villeneuve" || m.Genres[0] != "Sci-Fi" || m.HasRating {
		t.Fatalf("@graph 解析不正确：%+v ok=%v", m, ok)
	}
}

func TestFindLDMovie_Missing(t *testing.T) {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><h1>x</h1></body></html>`))
	if _, ok := FindLDMovie(doc); ok {
		t.Fatalf("没有 JSON-LD 时应返回 ok=false")
	}
}
