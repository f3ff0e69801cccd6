// Package rss fetches articles from RSS and Atom feeds.
package rss

import (
	"context"
	"fmt"
	"net/http"
	nurl "net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"github.com/mohammad-safakhou/newswire/internal/ingest"
)

// Fetcher parses a source's feed into raw items. When a feed entry carries
// less body text than minChars, the linked page is fetched and run through
// readability extraction to recover the full article.
type Fetcher struct {
	parser     *gofeed.Parser
	httpClient *http.Client
	minChars   int
	fullText   bool
}

// NewFetcher builds a feed fetcher. fullText enables readability upgrades for
// thin feed entries.
func NewFetcher(timeout time.Duration, minChars int, fullText bool) *Fetcher {
	return &Fetcher{
		parser:     gofeed.NewParser(),
		httpClient: &http.Client{Timeout: timeout},
		minChars:   minChars,
		fullText:   fullText,
	}
}

// Fetch pulls and parses the source's feed.
func (f *Fetcher) Fetch(ctx context.Context, src ingest.SourceDescriptor) ([]ingest.RawItem, error) {
	feed, err := f.parser.ParseURLWithContext(src.FeedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", src.FeedURL, err)
	}

	items := make([]ingest.RawItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry.Title == "" || entry.Link == "" {
			continue
		}
		body := entry.Content
		if body == "" {
			body = entry.Description
		}
		body = strings.TrimSpace(body)
		if f.fullText && len(body) < f.minChars {
			if full, err := f.extract(ctx, entry.Link); err == nil && len(full) > len(body) {
				body = full
			}
		}

		var published *time.Time
		if entry.PublishedParsed != nil {
			t := entry.PublishedParsed.UTC()
			published = &t
		}
		items = append(items, ingest.RawItem{
			Title:       strings.TrimSpace(entry.Title),
			URL:         entry.Link,
			Body:        body,
			PublishedAt: published,
		})
	}
	return items, nil
}

// extract downloads link and pulls out the readable article text.
func (f *Fetcher) extract(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", link, resp.StatusCode)
	}

	u, err := nurl.Parse(link)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(article.TextContent), nil
}
