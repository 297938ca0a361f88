// Package index stores embedded document passages and serves similarity
// search over them. It is the single source of truth for retrieval.
package index

import (
	"context"
	"time"
)

// Passage is one retrievable unit of a source document.
type Passage struct {
	Text       string
	Index      int    // ordinal within the owning document
	Category   string // inferred by the classifier
	Department string // inferred from the document path
	DocID      string // owning document identifier (content fingerprint)
	SourceFile string
	SourcePath string
}

// Record is a Passage with its embedding and synthetic id, as stored.
type Record struct {
	ID        string
	Passage
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached. Scores are
// backend-defined; callers rely only on relative ordering.
type ScoredRecord struct {
	Record
	Score float32
}

// Store is the interface for vector storage and similarity search backends.
// The default implementation uses SQLite with brute-force cosine similarity;
// an ANN-capable backend can replace it behind the same interface.
type Store interface {
	// Insert adds records. Insertion is additive: it never removes
	// existing records for the same document.
	Insert(records []Record) error

	// Search returns the top-K records most similar to the vector,
	// optionally restricted to one department ("" means no filter).
	Search(ctx context.Context, vector []float32, topK int, department string) ([]ScoredRecord, error)

	// DeleteByDocument removes every record belonging to the document and
	// returns how many were removed.
	DeleteByDocument(docID string) (int, error)

	// DeleteBySourcePath removes every record ingested from the given file
	// path, regardless of which content fingerprint wrote it.
	DeleteBySourcePath(path string) (int, error)

	// Count returns the total number of stored records.
	Count() (int, error)
}
