// Package server hosts the HTTP app: REST endpoints, the websocket answer
// stream, metrics, and the background ingestion scheduler.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/newswire/config"
	"github.com/mohammad-safakhou/newswire/internal/ingest"
	"github.com/mohammad-safakhou/newswire/internal/ingest/rss"
	"github.com/mohammad-safakhou/newswire/internal/moderation"
	"github.com/mohammad-safakhou/newswire/internal/provider"
	"github.com/mohammad-safakhou/newswire/internal/rag"
	"github.com/mohammad-safakhou/newswire/internal/search"
	"github.com/mohammad-safakhou/newswire/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Run wires every component and serves until the listener fails.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := store.Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	prov, err := provider.New(cfg.Providers.OpenAI)
	if err != nil {
		return err
	}

	idx, err := search.NewIndex()
	if err != nil {
		return err
	}
	if err := rebuildIndex(ctx, st, idx); err != nil {
		baseLogger.Printf("keyword index rebuild failed: %v", err)
	}

	sources := make([]ingest.SourceDescriptor, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, ingest.SourceDescriptor{Name: s.Name, FeedURL: s.FeedURL})
	}
	fetcher := rss.NewFetcher(cfg.Ingest.FetchTimeout, cfg.Ingest.MinBodyChars, cfg.Ingest.ExtractFullText)
	orch := ingest.NewOrchestrator(fetcher, prov, st, sources, cfg.Ingest.MinBodyChars, func(a store.Article) {
		if err := idx.Add(a); err != nil {
			baseLogger.Printf("keyword index add failed for %s: %v", a.Fingerprint, err)
		}
	})

	var rdb *redis.Client
	if raddr := cfg.Databases.Redis.Addr(); raddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: raddr, Password: cfg.Databases.Redis.Pass, DB: cfg.Databases.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", raddr, err)
		}
	}

	retention := time.Duration(cfg.Ingest.RetentionDays) * 24 * time.Hour
	sched := NewScheduler(orch, rdb, cfg.Ingest.Interval, cfg.Ingest.CleanupCron, retention)
	sched.Start()

	ranker := rag.NewRanker(prov, st, cfg.RAG.TopK, cfg.RAG.DistanceThreshold)
	gate := moderation.NewRuleGate()

	api := e.Group("/api")
	nh := &NewsHandler{Store: st, Index: idx, Sched: sched}
	nh.Register(api)

	e.GET("/ws/ask", func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		sess := NewSession(conn, ranker, prov, gate, cfg.RAG.MaxContextChars, cfg.Websocket)
		sess.Run(c.Request().Context())
		return nil
	})

	if addr == "" {
		addr = cfg.General.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10001"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// rebuildIndex reloads the keyword index from stored articles on startup.
func rebuildIndex(ctx context.Context, st *store.Store, idx *search.Index) error {
	articles, err := st.ListRecentArticles(ctx, "", 5000)
	if err != nil {
		return err
	}
	for _, a := range articles {
		if err := idx.Add(a); err != nil {
			return err
		}
	}
	return nil
}
