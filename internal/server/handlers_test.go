package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newswire/internal/ingest"
)

func TestTriggerIngestConflict(t *testing.T) {
	runner := newBlockingRunner()
	sched := NewScheduler(runner, nil, time.Hour, "0 2 * * *", time.Hour)
	h := &NewsHandler{Sched: sched}

	go func() {
		_, _ = sched.TriggerNow(context.Background())
	}()
	<-runner.started
	defer close(runner.release)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/trigger", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.triggerIngest(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409 while a run is active, got %v", err)
	}
}

type instantRunner struct{}

func (instantRunner) IngestAll(context.Context) (ingest.RunStats, error) {
	return ingest.RunStats{NewArticles: 2, Duplicates: 1}, nil
}
func (instantRunner) Cleanup(context.Context, time.Duration) (int64, error) { return 0, nil }

func TestTriggerIngestReturnsStats(t *testing.T) {
	sched := NewScheduler(instantRunner{}, nil, time.Hour, "0 2 * * *", time.Hour)
	h := &NewsHandler{Sched: sched}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/trigger", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.triggerIngest(c); err != nil {
		t.Fatalf("triggerIngest: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"new_articles":2`) {
		t.Fatalf("stats missing from response: %s", body)
	}
}

func TestSearchNewsRequiresQuery(t *testing.T) {
	h := &NewsHandler{}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/news/search", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.searchNews(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %v", err)
	}
}
