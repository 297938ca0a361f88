// Package rag orchestrates a chat request end to end: contextualize the
// question against conversation history, retrieve grounding passages from
// the vector index, generate an answer (blocking or streamed), score its
// confidence, and persist the exchange.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bvergne/docrag/internal/cache"
	"github.com/bvergne/docrag/internal/index"
	"github.com/bvergne/docrag/internal/llm"
	"github.com/bvergne/docrag/internal/memory"
	"github.com/bvergne/docrag/internal/stats"
)

// ErrEmptyMessage is returned when a request carries no message text.
var ErrEmptyMessage = errors.New("message must not be empty")

// Request is one chat turn.
type Request struct {
	Message          string
	ConversationID   string
	DepartmentFilter string
	UserID           string
}

// Source identifies a document an answer was grounded on.
type Source struct {
	File       string `json:"file"`
	Path       string `json:"path"`
	Category   string `json:"category"`
	Department string `json:"department"`
}

// Response is the non-streaming chat result.
type Response struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	Confidence     string   `json:"confidence"`
	ConversationID string   `json:"conversation_id"`
	ResponseTimeMs int64    `json:"response_time_ms"`
	Cached         bool     `json:"cached"`
}

// Stream event types, emitted in this order: conversation_id, token...,
// sources, confidence, done. The concatenated token events are the only
// authoritative answer text. An error event (followed by done) replaces the
// remainder of the sequence on mid-request failure.
const (
	EventConversationID = "conversation_id"
	EventToken          = "token"
	EventSources        = "sources"
	EventConfidence     = "confidence"
	EventError          = "error"
	EventDone           = "done"
)

// StreamEvent is one event of the streaming chat sequence.
type StreamEvent struct {
	Type string
	Data any
}

// cachedAnswer is the answer-cache payload.
type cachedAnswer struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Confidence string   `json:"confidence"`
}

// retrieved is one grounding passage, as cached and as fed to the prompt.
type retrieved struct {
	Text       string  `json:"text"`
	File       string  `json:"file"`
	Path       string  `json:"path"`
	Category   string  `json:"category"`
	Department string  `json:"department"`
	Score      float32 `json:"score"`
}

// Engine is the query orchestrator. All collaborators are injected once at
// construction; the engine holds no hidden global state.
type Engine struct {
	provider llm.Provider
	index    *index.Writer
	cache    *cache.Cache
	memory   *memory.Memory
	stats    *stats.Recorder
	log      *slog.Logger

	topK int
}

// New builds an Engine. stats may be nil to disable query statistics.
func New(provider llm.Provider, idx *index.Writer, c *cache.Cache, m *memory.Memory, rec *stats.Recorder, topK int, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		provider: provider,
		index:    idx,
		cache:    c,
		memory:   m,
		stats:    rec,
		log:      log,
		topK:     topK,
	}
}

// Chat answers one message and returns the full response.
func (e *Engine) Chat(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Message) == "" {
		return Response{}, ErrEmptyMessage
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	history := e.memory.History(ctx, conversationID)

	// Cached answers are only safe for context-free questions: a follow-up
	// depends on its history and must not be served another conversation's
	// answer.
	if len(history) == 0 {
		var hit cachedAnswer
		if e.cache.GetAnswer(ctx, answerKey(req.Message, req.DepartmentFilter), &hit) {
			resp := Response{
				Answer:         hit.Answer,
				Sources:        hit.Sources,
				Confidence:     hit.Confidence,
				ConversationID: conversationID,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				Cached:         true,
			}
			e.persist(ctx, conversationID, req, resp)
			return resp, nil
		}
	}

	question := e.contextualize(ctx, req.Message, history)

	passages, err := e.retrieve(ctx, question, req.DepartmentFilter)
	if err != nil {
		return Response{}, fmt.Errorf("retrieving passages: %w", err)
	}

	var answer string
	if len(passages) == 0 {
		answer = noDocumentsAnswer
	} else {
		answer, err = e.provider.Generate(ctx, buildPrompt(history, passages, question))
		if err != nil {
			return Response{}, fmt.Errorf("generating answer: %w", err)
		}
	}

	resp := Response{
		Answer:         answer,
		Sources:        sourcesOf(passages),
		Confidence:     scoreConfidence(answer, len(passages)),
		ConversationID: conversationID,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}

	e.persist(ctx, conversationID, req, resp)
	if len(history) == 0 {
		e.cache.SetAnswer(ctx, answerKey(req.Message, req.DepartmentFilter), cachedAnswer{
			Answer:     resp.Answer,
			Sources:    resp.Sources,
			Confidence: resp.Confidence,
		})
	}
	return resp, nil
}

// ChatStream answers one message as an event sequence delivered through
// emit. A non-nil error from emit (client gone) stops the stream; whatever
// text was already generated is still persisted. A generation failure is
// reported in-band as an error event followed by done.
func (e *Engine) ChatStream(ctx context.Context, req Request, emit func(StreamEvent) error) error {
	start := time.Now()

	if strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if err := emit(StreamEvent{Type: EventConversationID, Data: conversationID}); err != nil {
		return err
	}

	history := e.memory.History(ctx, conversationID)

	if len(history) == 0 {
		var hit cachedAnswer
		if e.cache.GetAnswer(ctx, answerKey(req.Message, req.DepartmentFilter), &hit) {
			resp := Response{
				Answer:         hit.Answer,
				Sources:        hit.Sources,
				Confidence:     hit.Confidence,
				ConversationID: conversationID,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				Cached:         true,
			}
			e.persist(ctx, conversationID, req, resp)
			return e.finishStream(emit, resp.Answer, resp.Sources, resp.Confidence)
		}
	}

	question := e.contextualize(ctx, req.Message, history)

	passages, err := e.retrieve(ctx, question, req.DepartmentFilter)
	if err != nil {
		return e.failStream(emit, fmt.Errorf("retrieving passages: %w", err))
	}

	if len(passages) == 0 {
		resp := Response{
			Answer:         noDocumentsAnswer,
			Confidence:     scoreConfidence(noDocumentsAnswer, 0),
			ConversationID: conversationID,
			ResponseTimeMs: time.Since(start).Milliseconds(),
		}
		e.persist(ctx, conversationID, req, resp)
		return e.finishStream(emit, resp.Answer, nil, resp.Confidence)
	}

	var sb strings.Builder
	var emitErr error
	genErr := e.provider.Stream(ctx, buildPrompt(history, passages, question), func(token string) error {
		sb.WriteString(token)
		if err := emit(StreamEvent{Type: EventToken, Data: token}); err != nil {
			emitErr = err
			return err
		}
		return nil
	})

	sources := sourcesOf(passages)
	if genErr != nil {
		// A gone client still gets its partial exchange persisted; a model
		// failure is reported in-band and nothing is cached.
		if partial := sb.String(); partial != "" {
			e.persist(ctx, conversationID, req, Response{
				Answer:         partial,
				Sources:        sources,
				Confidence:     scoreConfidence(partial, len(passages)),
				ConversationID: conversationID,
				ResponseTimeMs: time.Since(start).Milliseconds(),
			})
		}
		if emitErr != nil {
			return emitErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return e.failStream(emit, fmt.Errorf("generating answer: %w", genErr))
	}

	resp := Response{
		Answer:         sb.String(),
		Sources:        sources,
		Confidence:     scoreConfidence(sb.String(), len(passages)),
		ConversationID: conversationID,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
	e.persist(ctx, conversationID, req, resp)
	return e.emitTail(emit, resp.Sources, resp.Confidence)
}

// finishStream replays a complete answer as a single token event followed
// by the normal tail.
func (e *Engine) finishStream(emit func(StreamEvent) error, answer string, sources []Source, confidence string) error {
	if err := emit(StreamEvent{Type: EventToken, Data: answer}); err != nil {
		return err
	}
	return e.emitTail(emit, sources, confidence)
}

func (e *Engine) emitTail(emit func(StreamEvent) error, sources []Source, confidence string) error {
	if sources == nil {
		sources = []Source{}
	}
	if err := emit(StreamEvent{Type: EventSources, Data: sources}); err != nil {
		return err
	}
	if err := emit(StreamEvent{Type: EventConfidence, Data: confidence}); err != nil {
		return err
	}
	return emit(StreamEvent{Type: EventDone})
}

// failStream reports an in-band failure: an error event, then the terminal
// done event. The request itself does not error.
func (e *Engine) failStream(emit func(StreamEvent) error, cause error) error {
	e.log.Error("streaming chat failed", "error", cause)
	if err := emit(StreamEvent{Type: EventError, Data: cause.Error()}); err != nil {
		return err
	}
	return emit(StreamEvent{Type: EventDone})
}

// contextualize rewrites a follow-up question into a standalone one using
// the recent history. Failures degrade to the original message.
func (e *Engine) contextualize(ctx context.Context, message string, history []memory.Exchange) string {
	if len(history) == 0 {
		return message
	}
	rewritten, err := e.provider.Generate(ctx, buildContextualizePrompt(history, message))
	if err != nil {
		e.log.Warn("contextualization failed, using original message", "error", err)
		return message
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return message
	}
	return rewritten
}

// retrieve returns the top-K grounding passages, consulting the search
// cache first.
func (e *Engine) retrieve(ctx context.Context, question, department string) ([]retrieved, error) {
	key := searchKey(question, e.topK, department)
	var hit []retrieved
	if e.cache.GetSearch(ctx, key, &hit) {
		return hit, nil
	}

	records, err := e.index.Search(ctx, question, e.topK, department)
	if err != nil {
		return nil, err
	}
	passages := make([]retrieved, len(records))
	for i, r := range records {
		passages[i] = retrieved{
			Text:       r.Text,
			File:       r.SourceFile,
			Path:       r.SourcePath,
			Category:   r.Category,
			Department: r.Department,
			Score:      r.Score,
		}
	}
	e.cache.SetSearch(ctx, key, passages)
	return passages, nil
}

// persist appends the exchange to conversation memory and records query
// statistics. Both are best-effort. The detached context lets a disconnected
// client's partial exchange still be written.
func (e *Engine) persist(ctx context.Context, conversationID string, req Request, resp Response) {
	ctx = context.WithoutCancel(ctx)

	files := make([]string, len(resp.Sources))
	for i, s := range resp.Sources {
		files[i] = s.File
	}
	e.memory.Append(ctx, conversationID, req.UserID, memory.Exchange{
		Question: req.Message,
		Answer:   resp.Answer,
		Sources:  files,
	})

	if e.stats == nil {
		return
	}
	err := e.stats.Record(ctx, stats.Entry{
		UserID:       req.UserID,
		Question:     req.Message,
		AnswerLength: len(resp.Answer),
		Confidence:   resp.Confidence,
		SourceCount:  len(resp.Sources),
		ResponseTime: time.Duration(resp.ResponseTimeMs) * time.Millisecond,
		Cached:       resp.Cached,
	})
	if err != nil {
		e.log.Warn("recording query stats failed", "error", err)
	}
}

// sourcesOf lists the distinct documents behind the passages, in rank order.
func sourcesOf(passages []retrieved) []Source {
	seen := make(map[string]struct{}, len(passages))
	sources := make([]Source, 0, len(passages))
	for _, p := range passages {
		if _, ok := seen[p.Path]; ok {
			continue
		}
		seen[p.Path] = struct{}{}
		sources = append(sources, Source{
			File:       p.File,
			Path:       p.Path,
			Category:   p.Category,
			Department: p.Department,
		})
	}
	return sources
}

func answerKey(message, department string) string {
	return message + "|dept=" + department
}

func searchKey(question string, topK int, department string) string {
	return fmt.Sprintf("%s|k=%d|dept=%s", question, topK, department)
}
