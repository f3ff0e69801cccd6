// Package ingest runs the feed-to-store pipeline: fetch, dedup, embed, insert.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/newswire/internal/fingerprint"
	"github.com/mohammad-safakhou/newswire/internal/store"
)

// SourceDescriptor names a feed to ingest from.
type SourceDescriptor struct {
	Name    string
	FeedURL string
}

// RawItem is one item as fetched from a source, before any processing.
type RawItem struct {
	Title       string
	URL         string
	Body        string
	PublishedAt *time.Time
}

// Fetcher pulls items from one source.
type Fetcher interface {
	Fetch(ctx context.Context, src SourceDescriptor) ([]RawItem, error)
}

// Embedder turns article text into vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the persistence surface ingestion needs.
type Store interface {
	ExistsArticle(ctx context.Context, fp string) (bool, error)
	InsertArticle(ctx context.Context, a store.Article) error
	DeleteArticlesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SourceStats summarizes one source's outcome within a run.
type SourceStats struct {
	Source       string        `json:"source"`
	NewArticles  int           `json:"new_articles"`
	Duplicates   int           `json:"duplicates"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// RunStats aggregates a whole ingestion run.
type RunStats struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Sources     []SourceStats `json:"sources"`
	NewArticles int           `json:"new_articles"`
	Duplicates  int           `json:"duplicates"`
	Errors      int           `json:"errors"`
}

// Orchestrator fans ingestion out across sources and isolates their failures.
type Orchestrator struct {
	fetcher  Fetcher
	embedder Embedder
	store    Store
	sources  []SourceDescriptor
	minBody  int
	onInsert func(store.Article)
	logger   *log.Logger
}

// NewOrchestrator wires the ingestion pipeline. minBody is the minimum body
// length in characters for an item to be kept. onInsert, when non-nil, is
// called for every article that was actually inserted.
func NewOrchestrator(fetcher Fetcher, embedder Embedder, st Store, sources []SourceDescriptor, minBody int, onInsert func(store.Article)) *Orchestrator {
	return &Orchestrator{
		fetcher:  fetcher,
		embedder: embedder,
		store:    st,
		sources:  sources,
		minBody:  minBody,
		onInsert: onInsert,
		logger:   log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// IngestAll runs every configured source concurrently. A failing source never
// stops the others; only a store outage aborts the run.
func (o *Orchestrator) IngestAll(ctx context.Context) (RunStats, error) {
	run := RunStats{StartedAt: time.Now()}
	stats := make([]SourceStats, len(o.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range o.sources {
		i, src := i, src
		g.Go(func() error {
			s, err := o.IngestSource(gctx, src)
			stats[i] = s
			return err
		})
	}
	err := g.Wait()

	run.Duration = time.Since(run.StartedAt)
	run.Sources = stats
	for _, s := range stats {
		run.NewArticles += s.NewArticles
		run.Duplicates += s.Duplicates
		run.Errors += s.Errors
	}
	if err != nil {
		return run, fmt.Errorf("ingestion run aborted: %w", err)
	}
	o.logger.Printf("run complete: %d new, %d duplicates, %d errors in %s",
		run.NewArticles, run.Duplicates, run.Errors, run.Duration)
	return run, nil
}

// IngestSource processes one source end to end. Per-item failures are counted
// and skipped; a fetch failure marks the whole source failed. The returned
// error is non-nil only for store outages, which the caller must treat as
// fatal for the run.
func (o *Orchestrator) IngestSource(ctx context.Context, src SourceDescriptor) (SourceStats, error) {
	start := time.Now()
	stats := SourceStats{Source: src.Name}

	items, err := o.fetcher.Fetch(ctx, src)
	if err != nil {
		o.logger.Printf("source %s: fetch failed: %v", src.Name, err)
		stats.Duration = time.Since(start)
		stats.ErrorMessage = err.Error()
		return stats, nil
	}

	for _, item := range items {
		fp := fingerprint.Fingerprint(item.Title, item.URL)

		exists, err := o.store.ExistsArticle(ctx, fp)
		if err != nil {
			stats.Duration = time.Since(start)
			stats.ErrorMessage = err.Error()
			return stats, fmt.Errorf("source %s: checking article: %w", src.Name, err)
		}
		if exists {
			stats.Duplicates++
			continue
		}

		if len(item.Body) < o.minBody {
			o.logger.Printf("source %s: skipping %q: body too short (%d chars)", src.Name, item.Title, len(item.Body))
			stats.Errors++
			continue
		}

		vecs, err := o.embedder.CreateEmbedding(ctx, []string{item.Title + "\n\n" + item.Body})
		if err != nil {
			o.logger.Printf("source %s: embedding %q failed: %v", src.Name, item.Title, err)
			stats.Errors++
			continue
		}

		article := store.Article{
			Fingerprint: fp,
			Title:       item.Title,
			URL:         item.URL,
			Body:        item.Body,
			Source:      src.Name,
			PublishedAt: item.PublishedAt,
			IngestedAt:  time.Now().UTC(),
			Embedding:   vecs[0],
		}
		if err := o.store.InsertArticle(ctx, article); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// another run inserted it between the exists check and now
				stats.Duplicates++
				continue
			}
			stats.Duration = time.Since(start)
			stats.ErrorMessage = err.Error()
			return stats, fmt.Errorf("source %s: inserting article: %w", src.Name, err)
		}
		stats.NewArticles++
		if o.onInsert != nil {
			o.onInsert(article)
		}
	}

	stats.Duration = time.Since(start)
	stats.Success = true
	o.logger.Printf("source %s: %d new, %d duplicates, %d errors in %s",
		src.Name, stats.NewArticles, stats.Duplicates, stats.Errors, stats.Duration)
	return stats, nil
}

// Cleanup removes articles older than the retention window.
func (o *Orchestrator) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := o.store.DeleteArticlesOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	o.logger.Printf("cleanup: deleted %d articles older than %s", deleted, cutoff.Format(time.RFC3339))
	return deleted, nil
}
