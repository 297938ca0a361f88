package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bvergne/docrag/internal/rag"
)

// ChatRequest is the body of POST /api/v1/chat and /api/v1/chat/stream.
type ChatRequest struct {
	Message          string `json:"message"`
	ConversationID   string `json:"conversation_id,omitempty"`
	DepartmentFilter string `json:"department_filter,omitempty"`
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (rag.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
	defer r.Body.Close()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return rag.Request{}, false
	}
	if req.Message == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required and must not be empty")
		return rag.Request{}, false
	}
	return rag.Request{
		Message:          req.Message,
		ConversationID:   req.ConversationID,
		DepartmentFilter: req.DepartmentFilter,
		UserID:           userID(r),
	}, true
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChatRequest(w, r)
		if !ok {
			return
		}

		resp, err := deps.Engine.Chat(r.Context(), req)
		if errors.Is(err, rag.ErrEmptyMessage) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required and must not be empty")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "answering failed: %v", err)
			return
		}
		if resp.Sources == nil {
			resp.Sources = []rag.Source{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleChatStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChatRequest(w, r)
		if !ok {
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		err := deps.Engine.ChatStream(r.Context(), req, func(ev rag.StreamEvent) error {
			payload, err := json.Marshal(struct {
				Type string `json:"type"`
				Data any    `json:"data,omitempty"`
			}{Type: ev.Type, Data: ev.Data})
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})
		if err != nil {
			// Headers are already out; nothing more can be sent.
			return
		}
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversations := deps.Memory.List(r.Context(), userID(r))
		writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		meta, ok := deps.Memory.Get(r.Context(), id)
		if !ok || meta.UserID != userID(r) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation_id": id,
			"started_at":      meta.StartedAt,
			"last_activity":   meta.LastActivity,
			"exchanges":       deps.Memory.History(r.Context(), id),
		})
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		meta, ok := deps.Memory.Get(r.Context(), id)
		if !ok || meta.UserID != userID(r) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if !deps.Memory.Delete(r.Context(), id) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
