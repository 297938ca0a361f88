// Package api exposes the HTTP surface: chat (blocking and streaming),
// conversation management, document upload, and the admin endpoints.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/bvergne/docrag/internal/cache"
	"github.com/bvergne/docrag/internal/ingest"
	"github.com/bvergne/docrag/internal/llm"
	"github.com/bvergne/docrag/internal/memory"
	"github.com/bvergne/docrag/internal/rag"
	"github.com/bvergne/docrag/internal/stats"
	"github.com/bvergne/docrag/internal/tracker"
)

const maxChatBodySize = 1 << 20 // 1MB

// Deps carries the collaborators the handlers need. Everything is
// constructed once at startup and injected here.
type Deps struct {
	Engine   *rag.Engine
	Pipeline *ingest.Pipeline
	Memory   *memory.Memory
	Cache    *cache.Cache
	Tracker  *tracker.Tracker
	Stats    *stats.Recorder
	Provider llm.Provider

	// Token guards all /api/v1 routes when non-empty.
	Token           string
	DocumentsFolder string
	MaxUploadBytes  int64
}

// IndexCounter reports the size of the vector index for the stats endpoint.
type IndexCounter interface {
	Count() (int, error)
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps, index IndexCounter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", handleHealth(deps))

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(bearerAuth(deps.Token))
		}

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(deps.Cache))
			r.Post("/chat", handleChat(deps))
			r.Post("/chat/stream", handleChatStream(deps))
		})

		r.Get("/conversations", handleListConversations(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))

		r.Post("/documents/upload", handleUpload(deps))

		r.Post("/admin/reindex", handleReindex(deps))
		r.Get("/admin/stats", handleStats(deps, index))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if !deps.Provider.IsRunning(r.Context()) {
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

// userID identifies the caller for rate limiting and conversation scoping.
// Anonymous callers share one bucket.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}

// bearerAuth rejects requests whose Authorization header does not carry
// the configured token. The comparison is constant-time.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit enforces the per-user request budget on the chat endpoints. A
// failing limiter backend allows the request (degraded mode).
func rateLimit(c *cache.Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining := c.CheckRateLimit(r.Context(), userID(r))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				httpError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
