package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bvergne/docrag/internal/cache"
	"github.com/bvergne/docrag/internal/chunker"
	"github.com/bvergne/docrag/internal/config"
	"github.com/bvergne/docrag/internal/ingest"
	"github.com/bvergne/docrag/internal/index"
	"github.com/bvergne/docrag/internal/kv"
	"github.com/bvergne/docrag/internal/llm"
	"github.com/bvergne/docrag/internal/memory"
	"github.com/bvergne/docrag/internal/rag"
	"github.com/bvergne/docrag/internal/stats"
	"github.com/bvergne/docrag/internal/storage"
	"github.com/bvergne/docrag/internal/tracker"
)

type testAPI struct {
	handler  http.Handler
	pipeline *ingest.Pipeline
	folder   string
}

type apiOptions struct {
	token        string
	rateRequests int
	maxUpload    int64
}

func newTestAPI(t *testing.T, opts apiOptions) *testAPI {
	t.Helper()
	if opts.rateRequests == 0 {
		opts.rateRequests = 100
	}
	if opts.maxUpload == 0 {
		opts.maxUpload = 50 << 20
	}

	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	kvStore := kv.NewMemory()
	provider := llm.NewMock()

	c := cache.New(kvStore,
		config.RetrievalConfig{AnswerTTL: 30 * time.Minute, EmbeddingTTL: 24 * time.Hour, SearchTTL: 30 * time.Minute},
		config.RateLimitConfig{Requests: opts.rateRequests, Window: time.Minute},
		log)
	m := memory.New(kvStore, 10, time.Hour, log)
	tr := tracker.New(store.DB())
	w := index.NewWriter(index.NewEmbedder(provider, c), index.NewSQLiteStore(store.DB()))
	rec := stats.NewRecorder(store.DB())
	pipe := ingest.New(tr, w, ingest.Options{Chunking: chunker.DefaultConfig()}, log)
	engine := rag.New(provider, w, c, m, rec, 5, log)

	folder := t.TempDir()
	deps := Deps{
		Engine:          engine,
		Pipeline:        pipe,
		Memory:          m,
		Cache:           c,
		Tracker:         tr,
		Stats:           rec,
		Provider:        provider,
		Token:           opts.token,
		DocumentsFolder: folder,
		MaxUploadBytes:  opts.maxUpload,
	}
	return &testAPI{handler: NewHandler(deps, w), pipeline: pipe, folder: folder}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) seedDocument(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(a.folder, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, _, err := a.pipeline.ProcessFile(context.Background(), path)
	require.NoError(t, err)
}

const docText = `La procédure de congés payés exige un préavis de deux semaines.

Toute demande doit être validée par le responsable de service.`

func TestHealth(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	rr := a.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestChat(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	a.seedDocument(t, "rh/conges.txt", docText)

	rr := a.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "Quel est le préavis ?"}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp rag.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Answer)
	require.NotEmpty(t, resp.ConversationID)
	require.NotEmpty(t, resp.Sources)
	require.False(t, resp.Cached)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	rr := a.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: ""}, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBearerAuth(t *testing.T) {
	a := newTestAPI(t, apiOptions{token: "secret"})

	rr := a.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "bonjour"}, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = a.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "bonjour"},
		map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rr.Code)

	// Health stays open for probes.
	rr = a.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, apiOptions{rateRequests: 2})
	headers := map[string]string{"X-User-ID": "alice"}

	for i := 0; i < 2; i++ {
		rr := a.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "bonjour"}, headers)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := a.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "bonjour"}, headers)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	// Another user is unaffected.
	rr = a.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "bonjour"},
		map[string]string{"X-User-ID": "bob"})
	require.Equal(t, http.StatusOK, rr.Code)
}

type sseEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev sseEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChatStream(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	a.seedDocument(t, "rh/conges.txt", docText)

	rr := a.do(t, http.MethodPost, "/api/v1/chat/stream", ChatRequest{Message: "Quel est le préavis ?"}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	events := parseSSE(t, rr.Body.String())
	require.NotEmpty(t, events)
	require.Equal(t, rag.EventConversationID, events[0].Type)
	require.Equal(t, rag.EventDone, events[len(events)-1].Type)

	var answer strings.Builder
	var order []string
	for _, ev := range events {
		if ev.Type == rag.EventToken {
			var token string
			require.NoError(t, json.Unmarshal(ev.Data, &token))
			answer.WriteString(token)
			continue
		}
		order = append(order, ev.Type)
	}
	require.NotEmpty(t, answer.String())
	require.Equal(t, []string{rag.EventConversationID, rag.EventSources, rag.EventConfidence, rag.EventDone}, order)
}

func TestConversationLifecycle(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	a.seedDocument(t, "rh/conges.txt", docText)
	alice := map[string]string{"X-User-ID": "alice"}

	rr := a.do(t, http.MethodPost, "/api/v1/chat",
		ChatRequest{Message: "Quel est le préavis ?", ConversationID: "c1"}, alice)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = a.do(t, http.MethodGet, "/api/v1/conversations", nil, alice)
	require.Equal(t, http.StatusOK, rr.Code)
	var listing struct {
		Conversations []memory.Meta `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	require.Len(t, listing.Conversations, 1)
	require.Equal(t, "c1", listing.Conversations[0].ConversationID)

	rr = a.do(t, http.MethodGet, "/api/v1/conversations/c1", nil, alice)
	require.Equal(t, http.StatusOK, rr.Code)
	var conv struct {
		Exchanges []memory.Exchange `json:"exchanges"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conv))
	require.Len(t, conv.Exchanges, 1)

	// Conversations are scoped to their owner.
	rr = a.do(t, http.MethodGet, "/api/v1/conversations/c1", nil, map[string]string{"X-User-ID": "bob"})
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = a.do(t, http.MethodDelete, "/api/v1/conversations/c1", nil, map[string]string{"X-User-ID": "bob"})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = a.do(t, http.MethodDelete, "/api/v1/conversations/c1", nil, alice)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = a.do(t, http.MethodGet, "/api/v1/conversations/c1", nil, alice)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func (a *testAPI) upload(t *testing.T, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func TestUpload(t *testing.T) {
	a := newTestAPI(t, apiOptions{})

	rr := a.upload(t, "procedure.txt", []byte(docText))
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		Filename      string `json:"filename"`
		ChunksIndexed int    `json:"chunks_indexed"`
		Skipped       bool   `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "procedure.txt", resp.Filename)
	require.Greater(t, resp.ChunksIndexed, 0)
	require.False(t, resp.Skipped)

	// Uploaded documents are immediately searchable.
	chatRR := a.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "Quel est le préavis ?"}, nil)
	require.Equal(t, http.StatusOK, chatRR.Code)
	var chat rag.Response
	require.NoError(t, json.Unmarshal(chatRR.Body.Bytes(), &chat))
	require.NotEmpty(t, chat.Sources)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	rr := a.upload(t, "binaire.exe", []byte("MZ"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	a := newTestAPI(t, apiOptions{maxUpload: 512})
	rr := a.upload(t, "gros.txt", bytes.Repeat([]byte("a"), 4096))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestReindex(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	require.NoError(t, os.WriteFile(filepath.Join(a.folder, "doc.txt"), []byte(docText), 0o644))

	rr := a.do(t, http.MethodPost, "/api/v1/admin/reindex", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary ingest.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Equal(t, ingest.Summary{Total: 1, Indexed: 1}, summary)

	// Unchanged corpus: everything skipped.
	rr = a.do(t, http.MethodPost, "/api/v1/admin/reindex", nil, nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Equal(t, ingest.Summary{Total: 1, Skipped: 1}, summary)

	// Full flag resets the ledger.
	rr = a.do(t, http.MethodPost, "/api/v1/admin/reindex", map[string]bool{"full": true}, nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Equal(t, ingest.Summary{Total: 1, Indexed: 1}, summary)
}

func TestStats(t *testing.T) {
	a := newTestAPI(t, apiOptions{})
	a.seedDocument(t, "doc.txt", docText)

	rr := a.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "Quel est le préavis ?"}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = a.do(t, http.MethodGet, "/api/v1/admin/stats", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Documents map[string]tracker.StatusCount `json:"documents"`
		Passages  int                            `json:"passages"`
		Queries   stats.Summary                  `json:"queries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Greater(t, resp.Passages, 0)
	require.Equal(t, 1, resp.Documents[tracker.StatusSuccess].Files)
	require.Equal(t, 1, resp.Queries.TotalQueries)
}
