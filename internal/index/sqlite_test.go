package index

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/bvergne/docrag/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s.DB()
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func makeRecord(id, docID, dept string, vec []float32) Record {
	return Record{
		ID: id,
		Passage: Passage{
			Text:       "passage " + id,
			Index:      0,
			Category:   "general",
			Department: dept,
			DocID:      docID,
			SourceFile: "doc.pdf",
			SourcePath: "/docs/" + dept + "/doc.pdf",
		},
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}
}

func TestInsertAndSearch(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))

	vec := makeTestVector(768, 0.1)
	if err := s.Insert([]Record{makeRecord("r1", "doc1", "rh", vec)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(context.Background(), vec, 1, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("score = %f, want > 0.99", results[0].Score)
	}
	if results[0].DocID != "doc1" || results[0].Department != "rh" {
		t.Errorf("metadata lost: %+v", results[0].Passage)
	}
}

func TestSearchTopK(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))

	var records []Record
	for i := 0; i < 10; i++ {
		records = append(records, makeRecord(fmt.Sprintf("r%d", i), "doc", "rh", makeTestVector(768, float32(i)*0.01)))
	}
	if err := s.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(context.Background(), makeTestVector(768, 0.05), 3, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted descending at %d", i)
		}
	}
}

func TestSearchDepartmentFilter(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))

	vec := makeTestVector(768, 0.1)
	records := []Record{
		makeRecord("r1", "doc1", "rh", vec),
		makeRecord("r2", "doc2", "finance", vec),
		makeRecord("r3", "doc3", "finance", vec),
	}
	if err := s.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(context.Background(), vec, 10, "finance")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Department != "finance" {
			t.Errorf("department = %q, want finance", r.Department)
		}
	}
}

func TestSearchEmptyTable(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))

	results, err := s.Search(context.Background(), makeTestVector(768, 0.1), 5, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestDeleteByDocument(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))

	vec := makeTestVector(768, 0.1)
	records := []Record{
		makeRecord("r1", "doc1", "rh", vec),
		makeRecord("r2", "doc1", "rh", vec),
		makeRecord("r3", "doc2", "rh", vec),
	}
	if err := s.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := s.DeleteByDocument("doc1")
	if err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestDeleteBySourcePath(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))

	vec := makeTestVector(768, 0.1)
	// Two fingerprints of the same file path, plus another file.
	records := []Record{
		makeRecord("r1", "doc1", "rh", vec),
		makeRecord("r2", "doc2", "rh", vec),
		makeRecord("r3", "doc3", "finance", vec),
	}
	if err := s.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := s.DeleteBySourcePath("/docs/rh/doc.pdf")
	if err != nil {
		t.Fatalf("DeleteBySourcePath: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2 (both fingerprints of the path)", n)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	vec := makeTestVector(32, 0.42)
	decoded, err := decodeFloat32s(encodeFloat32s(vec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("len = %d, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Fatalf("decoded[%d] = %f, want %f", i, decoded[i], vec[i])
		}
	}
}

func TestDecodeCorruptBlob(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for blob length not divisible by 4")
	}
}
