// Package rag retrieves relevant articles for a question and assembles the
// context a completion is grounded on.
package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/newswire/internal/store"
)

// ErrNoRelevantContext means retrieval found nothing close enough to answer
// from. Callers should surface this to the user instead of generating.
var ErrNoRelevantContext = errors.New("no relevant context for question")

// Embedder turns text into vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher runs nearest-neighbour search over stored articles.
type Searcher interface {
	SearchArticles(ctx context.Context, vector []float32, topK int) ([]store.SearchResult, error)
}

// Ranker embeds a question, searches the article store and applies the
// relevance gate.
type Ranker struct {
	embedder  Embedder
	searcher  Searcher
	topK      int
	threshold float64
}

// NewRanker builds a Ranker. threshold is a cosine distance in [0, 2]; results
// are discarded when even the nearest article is farther than it.
func NewRanker(embedder Embedder, searcher Searcher, topK int, threshold float64) *Ranker {
	return &Ranker{embedder: embedder, searcher: searcher, topK: topK, threshold: threshold}
}

// Retrieve returns the topK nearest articles for question, ordered nearest
// first. Returns ErrNoRelevantContext when the store is empty or the nearest
// match is beyond the distance threshold.
func (r *Ranker) Retrieve(ctx context.Context, question string) ([]store.SearchResult, error) {
	vecs, err := r.embedder.CreateEmbedding(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}

	results, err := r.searcher.SearchArticles(ctx, vecs[0], r.topK)
	if err != nil {
		return nil, fmt.Errorf("searching articles: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoRelevantContext
	}
	// results arrive nearest first, so one comparison decides relevance
	if results[0].Distance > r.threshold {
		return nil, ErrNoRelevantContext
	}
	return results, nil
}
