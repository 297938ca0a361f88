// Package cache provides the namespaced, TTL-bounded cache layer over the
// kv store: generated answers, embedding vectors, search results, and the
// per-user rate limiter. The cache is strictly an accelerator; every backend
// error is logged and swallowed so a failing Redis degrades latency, never
// availability.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bvergne/docrag/internal/config"
	"github.com/bvergne/docrag/internal/kv"
)

const (
	nsAnswer    = "answer"
	nsEmbedding = "embedding"
	nsSearch    = "search"
)

// Cache is the shared cache layer. A zero-value Cache is not usable; build
// one with New.
type Cache struct {
	kv  kv.Store
	log *slog.Logger

	answerTTL    time.Duration
	embeddingTTL time.Duration
	searchTTL    time.Duration

	rateLimit  int
	rateWindow time.Duration
}

// New builds a Cache over the given kv store. TTLs and the rate-limit
// budget come from configuration.
func New(store kv.Store, retrieval config.RetrievalConfig, rate config.RateLimitConfig, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		kv:           store,
		log:          log,
		answerTTL:    retrieval.AnswerTTL,
		embeddingTTL: retrieval.EmbeddingTTL,
		searchTTL:    retrieval.SearchTTL,
		rateLimit:    rate.Requests,
		rateWindow:   rate.Window,
	}
}

// key hashes the caller's natural key (question text, search query, chunk
// text) into a short fixed-width cache key.
func key(namespace, raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("cache:%s:%s", namespace, hex.EncodeToString(sum[:])[:16])
}

func (c *Cache) get(ctx context.Context, namespace, raw string, dest any) bool {
	val, err := c.kv.Get(ctx, key(namespace, raw))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.log.Warn("cache read failed", "namespace", namespace, "error", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		c.log.Warn("cache entry undecodable", "namespace", namespace, "error", err)
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, namespace, raw string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache encode failed", "namespace", namespace, "error", err)
		return
	}
	if err := c.kv.Set(ctx, key(namespace, raw), string(data), ttl); err != nil {
		c.log.Warn("cache write failed", "namespace", namespace, "error", err)
	}
}

func (c *Cache) invalidate(ctx context.Context, namespace, raw string) {
	if err := c.kv.Del(ctx, key(namespace, raw)); err != nil {
		c.log.Warn("cache invalidate failed", "namespace", namespace, "error", err)
	}
}

// GetAnswer loads a cached chat answer into dest. Returns false on miss or
// any backend failure.
func (c *Cache) GetAnswer(ctx context.Context, question string, dest any) bool {
	return c.get(ctx, nsAnswer, question, dest)
}

// SetAnswer caches a chat answer keyed by its question.
func (c *Cache) SetAnswer(ctx context.Context, question string, value any) {
	c.set(ctx, nsAnswer, question, value, c.answerTTL)
}

// InvalidateAnswer drops the cached answer for a question.
func (c *Cache) InvalidateAnswer(ctx context.Context, question string) {
	c.invalidate(ctx, nsAnswer, question)
}

// GetSearch loads cached search results into dest.
func (c *Cache) GetSearch(ctx context.Context, query string, dest any) bool {
	return c.get(ctx, nsSearch, query, dest)
}

// SetSearch caches search results keyed by the query string (including any
// filters the caller folded into it).
func (c *Cache) SetSearch(ctx context.Context, query string, value any) {
	c.set(ctx, nsSearch, query, value, c.searchTTL)
}

// InvalidateSearch drops the cached results for a query.
func (c *Cache) InvalidateSearch(ctx context.Context, query string) {
	c.invalidate(ctx, nsSearch, query)
}

// GetEmbedding returns the cached vector for text, if present.
func (c *Cache) GetEmbedding(ctx context.Context, text string) ([]float32, bool) {
	var vec []float32
	if !c.get(ctx, nsEmbedding, text, &vec) {
		return nil, false
	}
	return vec, true
}

// SetEmbedding caches the vector for text.
func (c *Cache) SetEmbedding(ctx context.Context, text string, vector []float32) {
	c.set(ctx, nsEmbedding, text, vector, c.embeddingTTL)
}

// InvalidateEmbedding drops the cached vector for text.
func (c *Cache) InvalidateEmbedding(ctx context.Context, text string) {
	c.invalidate(ctx, nsEmbedding, text)
}

// CheckRateLimit counts a request for userID and reports whether it is
// within the per-window budget, along with how much budget remains. A
// failing backend never blocks a user: the error is logged and the request
// is allowed.
func (c *Cache) CheckRateLimit(ctx context.Context, userID string) (allowed bool, remaining int) {
	if c.rateLimit <= 0 {
		return true, 0
	}
	k := "ratelimit:" + userID
	count, err := c.kv.Incr(ctx, k)
	if err != nil {
		c.log.Warn("rate limit check failed", "user", userID, "error", err)
		return true, c.rateLimit
	}
	if count == 1 {
		if err := c.kv.Expire(ctx, k, c.rateWindow); err != nil {
			c.log.Warn("rate limit expire failed", "user", userID, "error", err)
		}
	}
	remaining = c.rateLimit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(c.rateLimit), remaining
}
