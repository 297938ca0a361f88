// Package stats records per-query usage statistics for the admin surface.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one answered query.
type Entry struct {
	UserID       string
	Question     string
	AnswerLength int
	Confidence   string
	SourceCount  int
	ResponseTime time.Duration
	Cached       bool
}

// Summary aggregates the recorded queries.
type Summary struct {
	TotalQueries  int            `json:"total_queries"`
	CachedQueries int            `json:"cached_queries"`
	AvgResponseMs float64        `json:"avg_response_ms"`
	ByConfidence  map[string]int `json:"by_confidence"`
}

// Recorder persists query statistics to the query_stats table.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a Recorder over an opened database.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record inserts one entry. Statistics are best-effort; callers log and
// continue on error.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	cached := 0
	if e.Cached {
		cached = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO query_stats (id, created_at, user_id, question, answer_length, confidence, source_count, response_time_ms, cached)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		time.Now().UTC().Format(time.RFC3339),
		e.UserID,
		e.Question,
		e.AnswerLength,
		e.Confidence,
		e.SourceCount,
		e.ResponseTime.Milliseconds(),
		cached,
	)
	if err != nil {
		return fmt.Errorf("recording query stats: %w", err)
	}
	return nil
}

// Summarize aggregates all recorded queries.
func (r *Recorder) Summarize(ctx context.Context) (Summary, error) {
	s := Summary{ByConfidence: make(map[string]int)}

	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(cached), 0), AVG(response_time_ms)
		FROM query_stats`).Scan(&s.TotalQueries, &s.CachedQueries, &avg)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing query stats: %w", err)
	}
	if avg.Valid {
		s.AvgResponseMs = avg.Float64
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT confidence, COUNT(*) FROM query_stats GROUP BY confidence`)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing confidence: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var confidence string
		var count int
		if err := rows.Scan(&confidence, &count); err != nil {
			return Summary{}, err
		}
		s.ByConfidence[confidence] = count
	}
	return s, rows.Err()
}
