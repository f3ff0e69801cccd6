package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/newswire/internal/store"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeSearcher struct {
	results []store.SearchResult
	err     error
	gotK    int
}

func (f *fakeSearcher) SearchArticles(_ context.Context, _ []float32, topK int) ([]store.SearchResult, error) {
	f.gotK = topK
	return f.results, f.err
}

func result(title string, distance float64) store.SearchResult {
	return store.SearchResult{
		Article:  store.Article{Title: title, Source: "feedA", URL: "https://a.example/" + title, Body: "body of " + title},
		Distance: distance,
	}
}

func TestRetrieveReturnsNearestFirst(t *testing.T) {
	s := &fakeSearcher{results: []store.SearchResult{result("one", 0.1), result("two", 0.3)}}
	r := NewRanker(&fakeEmbedder{vec: []float32{1, 0}}, s, 5, 0.5)

	got, err := r.Retrieve(context.Background(), "what happened?")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 || got[0].Article.Title != "one" {
		t.Fatalf("unexpected results: %+v", got)
	}
	if s.gotK != 5 {
		t.Fatalf("expected topK 5, got %d", s.gotK)
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	r := NewRanker(&fakeEmbedder{vec: []float32{1, 0}}, &fakeSearcher{}, 5, 0.5)
	_, err := r.Retrieve(context.Background(), "anything")
	if !errors.Is(err, ErrNoRelevantContext) {
		t.Fatalf("expected ErrNoRelevantContext, got %v", err)
	}
}

func TestRetrieveDistanceGate(t *testing.T) {
	// nearest result beyond threshold: nothing is relevant
	s := &fakeSearcher{results: []store.SearchResult{result("far", 0.9)}}
	r := NewRanker(&fakeEmbedder{vec: []float32{1, 0}}, s, 5, 0.5)
	_, err := r.Retrieve(context.Background(), "anything")
	if !errors.Is(err, ErrNoRelevantContext) {
		t.Fatalf("expected ErrNoRelevantContext, got %v", err)
	}

	// nearest within threshold: farther tail results ride along
	s = &fakeSearcher{results: []store.SearchResult{result("near", 0.4), result("far", 0.9)}}
	r = NewRanker(&fakeEmbedder{vec: []float32{1, 0}}, s, 5, 0.5)
	got, err := r.Retrieve(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both results, got %d", len(got))
	}
}

func TestRetrieveEmbedderError(t *testing.T) {
	r := NewRanker(&fakeEmbedder{err: errors.New("boom")}, &fakeSearcher{}, 5, 0.5)
	if _, err := r.Retrieve(context.Background(), "anything"); err == nil {
		t.Fatal("expected error")
	}
}

func TestAssembleBudget(t *testing.T) {
	results := []store.SearchResult{result("alpha", 0.1), result("beta", 0.2), result("gamma", 0.3)}

	text, cites := Assemble(results, 100000)
	if len(cites) != 3 {
		t.Fatalf("expected 3 citations, got %d", len(cites))
	}
	if !strings.Contains(text, "Article 1 (Source: feedA):") || !strings.Contains(text, "Article 3 (Source: feedA):") {
		t.Fatalf("context missing article headers:\n%s", text)
	}

	// budget that fits only the first block
	first, _ := Assemble(results[:1], 100000)
	text, cites = Assemble(results, len(first)+10)
	if len(cites) != 1 {
		t.Fatalf("expected 1 citation under tight budget, got %d", len(cites))
	}
	if strings.Contains(text, "beta") {
		t.Fatal("overflowing article leaked into context")
	}
	if cites[0].Title != "alpha" {
		t.Fatalf("citation mismatch: %+v", cites[0])
	}
}

func TestAssembleEmpty(t *testing.T) {
	text, cites := Assemble(nil, 1000)
	if text != "" || cites != nil {
		t.Fatalf("expected empty assembly, got %q / %+v", text, cites)
	}
}

func TestBuildPrompt(t *testing.T) {
	system, user := BuildPrompt("CTX", "why?")
	if system == "" {
		t.Fatal("empty system prompt")
	}
	if !strings.Contains(user, "CTX") || !strings.Contains(user, "Question: why?") {
		t.Fatalf("user prompt malformed: %q", user)
	}
}
