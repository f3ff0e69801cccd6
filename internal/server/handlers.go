package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newswire/internal/search"
	"github.com/mohammad-safakhou/newswire/internal/store"
)

// NewsHandler serves the read-only article endpoints and the manual
// ingestion trigger.
type NewsHandler struct {
	Store *store.Store
	Index *search.Index
	Sched *Scheduler
}

// Register mounts the handler's routes on g.
func (h *NewsHandler) Register(g *echo.Group) {
	g.GET("/news", h.listNews)
	g.GET("/news/search", h.searchNews)
	g.POST("/ingest/trigger", h.triggerIngest)
}

type articleView struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at,omitempty"`
	IngestedAt  string `json:"ingested_at"`
}

func viewOf(a store.Article) articleView {
	v := articleView{
		Title:      a.Title,
		URL:        a.URL,
		Source:     a.Source,
		IngestedAt: a.IngestedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if a.PublishedAt != nil {
		v.PublishedAt = a.PublishedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

func (h *NewsHandler) listNews(c echo.Context) error {
	limit := 50
	if s := c.QueryParam("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}
	articles, err := h.Store.ListRecentArticles(c.Request().Context(), c.QueryParam("source"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list articles")
	}
	views := make([]articleView, 0, len(articles))
	for _, a := range articles {
		views = append(views, viewOf(a))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"count": len(views), "articles": views})
}

func (h *NewsHandler) searchNews(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing query parameter q")
	}
	fps, err := h.Index.Search(q, 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	articles, err := h.Store.ArticlesByFingerprint(c.Request().Context(), fps)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load articles")
	}
	views := make([]articleView, 0, len(articles))
	for _, a := range articles {
		views = append(views, viewOf(a))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"count": len(views), "articles": views})
}

func (h *NewsHandler) triggerIngest(c echo.Context) error {
	stats, err := h.Sched.TriggerNow(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return echo.NewHTTPError(http.StatusConflict, "ingestion already running")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
