package index

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bvergne/docrag/internal/llm"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	inner *llm.Mock
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Embed(ctx, text)
}

type mapCache struct {
	mu sync.Mutex
	m  map[string][]float32
}

func newMapCache() *mapCache { return &mapCache{m: make(map[string][]float32)} }

func (c *mapCache) GetEmbedding(_ context.Context, text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[text]
	return v, ok
}

func (c *mapCache) SetEmbedding(_ context.Context, text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[text] = vector
}

func TestEmbedderCachesResults(t *testing.T) {
	backend := &countingEmbedder{inner: llm.NewMock()}
	e := NewEmbedder(backend, newMapCache())

	ctx := context.Background()
	if _, err := e.Embed(ctx, "même texte"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := e.Embed(ctx, "même texte"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if backend.calls != 1 {
		t.Errorf("backend called %d times, want 1 (second call cached)", backend.calls)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding backend down")
}

func TestEmbedBatchPropagatesErrors(t *testing.T) {
	e := NewEmbedder(failingEmbedder{}, nil)
	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error from failing backend")
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	e := NewEmbedder(llm.NewMock(), nil)
	out, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if out != nil {
		t.Errorf("EmbedBatch(nil) = %v, want nil", out)
	}
}

func TestWriterUpsertAndSearch(t *testing.T) {
	store := NewSQLiteStore(openTestDB(t))
	w := NewWriter(NewEmbedder(llm.NewMock(), nil), store)

	ctx := context.Background()
	passages := []Passage{
		{Text: "La procedure de conges payes demande un preavis.", Index: 0, Category: "rh", Department: "rh", DocID: "fp1", SourceFile: "conges.pdf", SourcePath: "/docs/rh/conges.pdf"},
		{Text: "Le budget previsionnel est revu chaque trimestre.", Index: 1, Category: "finance", Department: "finance", DocID: "fp2", SourceFile: "budget.pdf", SourcePath: "/docs/finance/budget.pdf"},
	}
	if err := w.Upsert(ctx, passages); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	count, err := w.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	// The mock embedder maps identical text to identical vectors, so the
	// exact passage text must rank first.
	results, err := w.Search(ctx, "La procedure de conges payes demande un preavis.", 2, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].SourceFile != "conges.pdf" {
		t.Errorf("top result = %q, want conges.pdf", results[0].SourceFile)
	}
}

func TestWriterUpsertIsAdditive(t *testing.T) {
	store := NewSQLiteStore(openTestDB(t))
	w := NewWriter(NewEmbedder(llm.NewMock(), nil), store)

	ctx := context.Background()
	p := Passage{Text: "contenu du document original pour le test", DocID: "doc1", SourceFile: "a.txt", SourcePath: "/a.txt"}
	if err := w.Upsert(ctx, []Passage{p}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := w.Upsert(ctx, []Passage{p}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	count, _ := w.Count()
	if count != 2 {
		t.Errorf("count = %d, want 2 (upsert never implicitly deletes)", count)
	}

	// Reindexing a changed document is delete-then-insert.
	if _, err := w.DeleteByDocument("doc1"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}
	count, _ = w.Count()
	if count != 0 {
		t.Errorf("count after delete = %d, want 0", count)
	}
}
