package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bvergne/docrag/internal/extract"
)

// allowedMIME is the upload content-type allow-list. Octet-stream is
// accepted because generic clients send it for any file; the extension
// check still applies.
var allowedMIME = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/msword":       true,
	"application/vnd.ms-excel": true,
	"text/plain":               true,
	"text/markdown":            true,
	"text/html":                true,
	"message/rfc822":           true,
	"application/octet-stream": true,
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > deps.MaxUploadBytes {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds the %d byte limit", deps.MaxUploadBytes)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds the %d byte limit", deps.MaxUploadBytes)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing file field: %v", err)
			return
		}
		defer file.Close()

		filename := filepath.Base(header.Filename)
		if filename == "" || filename == "." || filename == string(filepath.Separator) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid filename")
			return
		}
		if contentType := header.Header.Get("Content-Type"); contentType != "" && !allowedMIME[contentType] {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content type %q is not allowed", contentType)
			return
		}
		if !extract.IsSupported(filename) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported file type %q", filepath.Ext(filename))
			return
		}

		if err := os.MkdirAll(deps.DocumentsFolder, 0o755); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "preparing documents folder: %v", err)
			return
		}
		path := filepath.Join(deps.DocumentsFolder, filename)
		dst, err := os.Create(path)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving upload: %v", err)
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			os.Remove(path)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds the %d byte limit", deps.MaxUploadBytes)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "saving upload: %v", err)
			return
		}
		if err := dst.Close(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving upload: %v", err)
			return
		}

		chunks, skipped, err := deps.Pipeline.ProcessFile(r.Context(), path)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "processing_error", "indexing upload: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"filename":       filename,
			"chunks_indexed": chunks,
			"skipped":        skipped,
		})
	}
}

func handleReindex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Full bool `json:"full"`
		}
		// An empty body means an incremental pass.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		summary, err := deps.Pipeline.Reindex(r.Context(), deps.DocumentsFolder, req.Full)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reindexing: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleStats(deps Deps, index IndexCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documents, err := deps.Tracker.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading ledger stats: %v", err)
			return
		}
		passages, err := index.Count()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting passages: %v", err)
			return
		}
		queries, err := deps.Stats.Summarize(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "summarizing queries: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"documents": documents,
			"passages":  passages,
			"queries":   queries,
		})
	}
}
