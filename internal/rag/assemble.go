package rag

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/newswire/internal/store"
)

// Citation identifies an article that made it into the assembled context.
type Citation struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	URL    string `json:"url"`
}

// Assemble formats retrieval results into the context text handed to the
// model, never exceeding maxChars. Articles are consumed nearest first and
// assembly stops at the first article whose block would overflow the budget,
// so the citation list always matches the articles actually included.
func Assemble(results []store.SearchResult, maxChars int) (string, []Citation) {
	var b strings.Builder
	var citations []Citation

	for i, res := range results {
		block := fmt.Sprintf("Article %d (Source: %s):\nTitle: %s\nContent: %s",
			i+1, res.Article.Source, res.Article.Title, res.Article.Body)
		sep := ""
		if b.Len() > 0 {
			sep = "\n\n"
		}
		if b.Len()+len(sep)+len(block) > maxChars {
			break
		}
		b.WriteString(sep)
		b.WriteString(block)
		citations = append(citations, Citation{
			Title:  res.Article.Title,
			Source: res.Article.Source,
			URL:    res.Article.URL,
		})
	}
	return b.String(), citations
}
