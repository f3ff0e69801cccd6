// Package search keeps a BM25 keyword index over ingested articles,
// complementing the vector store for exact-term lookups.
package search

import (
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/newswire/internal/store"
)

// doc is the shape indexed per article.
type doc struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Source string `json:"source"`
}

// Index is an in-memory keyword index keyed by article fingerprint.
type Index struct {
	mu  sync.RWMutex
	idx bleve.Index
}

// NewIndex builds an empty in-memory index.
func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx}, nil
}

// Add indexes one article. Re-adding the same fingerprint replaces the entry.
func (i *Index) Add(a store.Article) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idx.Index(a.Fingerprint, doc{Title: a.Title, Body: a.Body, Source: a.Source})
}

// Search runs a query-string search and returns matching fingerprints,
// best first.
func (i *Index) Search(q string, limit int) ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, err
	}
	fps := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		fps = append(fps, hit.ID)
	}
	return fps, nil
}

// Count returns the number of indexed articles.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.idx.DocCount()
}
