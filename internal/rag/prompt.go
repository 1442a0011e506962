package rag

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/reelrag/internal/vectorstore"
)

const systemPrompt = `You are a knowledgeable movie expert assistant. You help users understand movies based on reviews and information from multiple sources including Rotten Tomatoes, IMDb, and Metacritic.

Guidelines:
- Provide balanced answers based on the provided context
- Cite specific sources when mentioning opinions or ratings
- Distinguish between critic and audience opinions when relevant
- If asked about specific aspects (acting, plot, cinematography), focus on those areas
- If the context doesn't contain enough information, say so honestly

Always base your response on the provided context and avoid making up information.`

const (
	contextDocs     = 5
	fallbackDocs    = 3
	fallbackExcerpt = 300
)

// buildContext 把前 contextDocs 条命中拼成上下文；总长度不超过 budget 个字符（<=0 表示不限）。
func buildContext(hits []vectorstore.Hit, excerpt, budget int) string {
	if len(hits) > contextDocs {
		hits = hits[:contextDocs]
	}
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		m := h.Doc.Meta
		if m.Type == vectorstore.TypeOverview {
			parts = append(parts, "Movie Overview: "+h.Doc.Text)
			continue
		}
		author := orDefault(m.Author, "Anonymous")
		source := orDefault(m.Source, "Unknown")
		rating := "N/A"
		if m.Rating != nil {
			rating = formatScore(*m.Rating)
		}
		parts = append(parts, fmt.Sprintf("Review by %s from %s (Rating: %s): %s", author, source, rating, truncate(h.Doc.Text, excerpt)))
	}
	return truncate(strings.Join(parts, "\n\n"), budget)
}

func userPrompt(question, title, context string) string {
	about := ""
	if title != "" {
		about = fmt.Sprintf(" about the movie '%s'", title)
	}
	return fmt.Sprintf(`Based on the following movie reviews and information, please answer this question%s:

Question: %s

Context:
%s

Please provide a comprehensive answer based on the available information.`, about, question, context)
}

// fallbackAnswer 在没有补全服务或补全失败时，直接拼接前几条命中。
func fallbackAnswer(hits []vectorstore.Hit, title string) string {
	if len(hits) == 0 {
		return noResultsAnswer(title)
	}
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Based on available reviews and information about '%s':", title)
	} else {
		b.WriteString("Based on available movie reviews and information:")
	}
	if len(hits) > fallbackDocs {
		hits = hits[:fallbackDocs]
	}
	for _, h := range hits {
		m := h.Doc.Meta
		if m.Type == vectorstore.TypeOverview {
			fmt.Fprintf(&b, "\n\nMovie Information: %s", h.Doc.Text)
			continue
		}
		fmt.Fprintf(&b, "\n\nFrom %s (%s): %s",
			orDefault(m.Source, "Unknown source"), orDefault(m.Author, "Anonymous reviewer"), truncate(h.Doc.Text, fallbackExcerpt))
	}
	return b.String()
}

func noResultsAnswer(title string) string {
	if title != "" {
		return fmt.Sprintf("I don't have enough information about '%s' to answer your question. "+
			"You might want to add this movie to the database first.", title)
	}
	return "I couldn't find relevant information to answer your question. " +
		"Please make sure you've added some movies to the database first, or try rephrasing your question."
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// truncate 按字符截断，被截断时以 "..." 结尾；max<=0 表示不截断。
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
