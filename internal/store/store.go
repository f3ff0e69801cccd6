package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ErrConflict reports an insert that collided with an existing fingerprint.
// Duplicate inserts are expected under concurrent ingestion triggers and are
// treated as a benign no-op by callers.
var ErrConflict = errors.New("article already exists")

// Store wraps the Postgres connection used for articles and vector search.
type Store struct {
	DB *sql.DB
}

// Article is a persisted news item. Articles are immutable after creation:
// they are inserted once, keyed by fingerprint, and only ever removed by the
// retention cleanup.
type Article struct {
	Fingerprint string
	Title       string
	URL         string
	Body        string
	Source      string
	PublishedAt *time.Time
	IngestedAt  time.Time
	Embedding   []float32
}

// SearchResult pairs an article with its cosine distance to the query vector.
type SearchResult struct {
	Article  Article
	Distance float64
}

// New constructs the Store from environment variables (DATABASE_URL or the
// POSTGRES_* parts).
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// ExistsArticle reports whether an article with the fingerprint is persisted.
func (s *Store) ExistsArticle(ctx context.Context, fp string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM articles WHERE fingerprint=$1`, fp)
	var one int
	switch err := row.Scan(&one); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("exists article: %w", err)
	}
}

// InsertArticle persists a new article. A fingerprint collision returns
// ErrConflict and leaves the stored row untouched.
func (s *Store) InsertArticle(ctx context.Context, a Article) error {
	if a.Fingerprint == "" {
		return fmt.Errorf("fingerprint required")
	}
	if len(a.Embedding) == 0 {
		return fmt.Errorf("embedding vector required")
	}
	vecLiteral, err := encodeVectorLiteral(a.Embedding)
	if err != nil {
		return err
	}
	ingested := a.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO articles (fingerprint, title, url, body, source, published_at, ingested_at, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::vector)
ON CONFLICT (fingerprint) DO NOTHING
`, a.Fingerprint, a.Title, a.URL, a.Body, a.Source, a.PublishedAt, ingested, vecLiteral)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SearchArticles returns the topK nearest articles by cosine distance,
// closest first; equal distances break toward the more recently ingested row.
func (s *Store) SearchArticles(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT fingerprint, title, url, body, source, published_at, ingested_at, embedding <=> $1::vector AS distance
FROM articles
ORDER BY embedding <=> $1::vector, ingested_at DESC
LIMIT $2
`, vecLiteral, topK)
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}
	defer rows.Close()
	var results []SearchResult
	for rows.Next() {
		var (
			res       SearchResult
			published sql.NullTime
		)
		if err := rows.Scan(&res.Article.Fingerprint, &res.Article.Title, &res.Article.URL,
			&res.Article.Body, &res.Article.Source, &published, &res.Article.IngestedAt, &res.Distance); err != nil {
			return nil, err
		}
		if published.Valid {
			t := published.Time
			res.Article.PublishedAt = &t
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// ListRecentArticles returns the most recently ingested articles, optionally
// filtered by source label. Embeddings are not loaded.
func (s *Store) ListRecentArticles(ctx context.Context, source string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT fingerprint, title, url, body, source, published_at, ingested_at
FROM articles
WHERE ($1 = '' OR source = $1)
ORDER BY ingested_at DESC
LIMIT $2
`, source, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent articles: %w", err)
	}
	defer rows.Close()
	var articles []Article
	for rows.Next() {
		var (
			a         Article
			published sql.NullTime
		)
		if err := rows.Scan(&a.Fingerprint, &a.Title, &a.URL, &a.Body, &a.Source, &published, &a.IngestedAt); err != nil {
			return nil, err
		}
		if published.Valid {
			t := published.Time
			a.PublishedAt = &t
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// ArticlesByFingerprint loads articles for the supplied fingerprints. Missing
// fingerprints are skipped; the result preserves the input order.
func (s *Store) ArticlesByFingerprint(ctx context.Context, fps []string) ([]Article, error) {
	if len(fps) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT fingerprint, title, url, body, source, published_at, ingested_at
FROM articles
WHERE fingerprint = ANY($1)
`, pq.Array(fps))
	if err != nil {
		return nil, fmt.Errorf("articles by fingerprint: %w", err)
	}
	defer rows.Close()
	byFP := make(map[string]Article, len(fps))
	for rows.Next() {
		var (
			a         Article
			published sql.NullTime
		)
		if err := rows.Scan(&a.Fingerprint, &a.Title, &a.URL, &a.Body, &a.Source, &published, &a.IngestedAt); err != nil {
			return nil, err
		}
		if published.Valid {
			t := published.Time
			a.PublishedAt = &t
		}
		byFP[a.Fingerprint] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ordered := make([]Article, 0, len(byFP))
	for _, fp := range fps {
		if a, ok := byFP[fp]; ok {
			ordered = append(ordered, a)
		}
	}
	return ordered, nil
}

// DeleteArticlesOlderThan removes articles ingested before the cutoff and
// returns how many rows were deleted.
func (s *Store) DeleteArticlesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM articles WHERE ingested_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old articles: %w", err)
	}
	return res.RowsAffected()
}

// CountArticles returns the number of persisted articles.
func (s *Store) CountArticles(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
