package index

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Writer embeds passages and maintains them in a Store. It is the write and
// query surface the pipeline and the query engine share.
type Writer struct {
	embedder *Embedder
	store    Store
}

// NewWriter creates a Writer over the given Embedder and Store.
func NewWriter(embedder *Embedder, store Store) *Writer {
	return &Writer{embedder: embedder, store: store}
}

// Upsert embeds the passages and inserts them. Insertion is additive: a
// caller reindexing a changed document must delete its old passages first.
func (w *Writer) Upsert(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d passages: %w", len(passages), err)
	}

	now := time.Now().UTC()
	records := make([]Record, len(passages))
	for i, p := range passages {
		records[i] = Record{
			ID:        uuid.New().String(),
			Passage:   p,
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}

	if err := w.store.Insert(records); err != nil {
		return fmt.Errorf("inserting %d records: %w", len(records), err)
	}
	return nil
}

// DeleteByDocument removes every stored passage of the document.
func (w *Writer) DeleteByDocument(docID string) (int, error) {
	return w.store.DeleteByDocument(docID)
}

// DeleteBySourcePath removes every stored passage ingested from the file
// path, whatever fingerprint it was indexed under.
func (w *Writer) DeleteBySourcePath(path string) (int, error) {
	return w.store.DeleteBySourcePath(path)
}

// Search embeds the query and returns the top-K most similar passages,
// optionally restricted to one department.
func (w *Writer) Search(ctx context.Context, query string, topK int, department string) ([]ScoredRecord, error) {
	vec, err := w.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return w.store.Search(ctx, vec, topK, department)
}

// Count returns the total number of indexed passages.
func (w *Writer) Count() (int, error) {
	return w.store.Count()
}
