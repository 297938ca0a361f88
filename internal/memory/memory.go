// Package memory keeps short-lived conversation history in the kv store so
// follow-up questions can be answered in context. History is bounded to the
// last N exchanges and expires after a sliding session TTL. Like the cache
// layer, a failing backend degrades to stateless conversations instead of
// failed requests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bvergne/docrag/internal/kv"
)

// Exchange is one question/answer turn in a conversation.
type Exchange struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Meta describes a conversation without its exchanges.
type Meta struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	StartedAt      time.Time `json:"started_at"`
	LastActivity   time.Time `json:"last_activity"`
	ExchangeCount  int       `json:"exchange_count"`
}

// Memory stores bounded conversation history.
type Memory struct {
	kv  kv.Store
	log *slog.Logger

	maxExchanges int
	ttl          time.Duration
	now          func() time.Time
}

// New builds a Memory keeping at most maxExchanges per conversation, each
// conversation expiring ttl after its last activity.
func New(store kv.Store, maxExchanges int, ttl time.Duration, log *slog.Logger) *Memory {
	if log == nil {
		log = slog.Default()
	}
	return &Memory{
		kv:           store,
		log:          log,
		maxExchanges: maxExchanges,
		ttl:          ttl,
		now:          time.Now,
	}
}

func convKey(id string) string { return "conv:" + id }
func metaKey(id string) string { return "convmeta:" + id }
func userKey(id string) string { return "userconvs:" + id }

// History returns the stored exchanges for a conversation, oldest first.
// Missing or expired conversations (and backend failures) read as empty.
func (m *Memory) History(ctx context.Context, conversationID string) []Exchange {
	val, err := m.kv.Get(ctx, convKey(conversationID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			m.log.Warn("conversation read failed", "conversation", conversationID, "error", err)
		}
		return nil
	}
	var exchanges []Exchange
	if err := json.Unmarshal([]byte(val), &exchanges); err != nil {
		m.log.Warn("conversation undecodable", "conversation", conversationID, "error", err)
		return nil
	}
	return exchanges
}

// Append records one exchange, truncating history to the configured bound
// and refreshing the session TTL. The conversation's started_at is set on
// first append and preserved afterwards.
func (m *Memory) Append(ctx context.Context, conversationID, userID string, ex Exchange) {
	if ex.Timestamp.IsZero() {
		ex.Timestamp = m.now()
	}

	exchanges := append(m.History(ctx, conversationID), ex)
	if len(exchanges) > m.maxExchanges {
		exchanges = exchanges[len(exchanges)-m.maxExchanges:]
	}

	data, err := json.Marshal(exchanges)
	if err != nil {
		m.log.Warn("conversation encode failed", "conversation", conversationID, "error", err)
		return
	}
	if err := m.kv.Set(ctx, convKey(conversationID), string(data), m.ttl); err != nil {
		m.log.Warn("conversation write failed", "conversation", conversationID, "error", err)
		return
	}

	meta := m.meta(ctx, conversationID)
	if meta == nil {
		meta = &Meta{
			ConversationID: conversationID,
			UserID:         userID,
			StartedAt:      m.now(),
		}
	}
	meta.LastActivity = m.now()
	meta.ExchangeCount = len(exchanges)
	if metaData, err := json.Marshal(meta); err == nil {
		if err := m.kv.Set(ctx, metaKey(conversationID), string(metaData), m.ttl); err != nil {
			m.log.Warn("conversation meta write failed", "conversation", conversationID, "error", err)
		}
	}

	if userID != "" {
		if err := m.kv.SAdd(ctx, userKey(userID), conversationID); err != nil {
			m.log.Warn("user conversation index failed", "user", userID, "error", err)
		}
		_ = m.kv.Expire(ctx, userKey(userID), m.ttl)
	}
}

// Get returns a conversation's metadata, or false if it does not exist.
func (m *Memory) Get(ctx context.Context, conversationID string) (Meta, bool) {
	meta := m.meta(ctx, conversationID)
	if meta == nil {
		return Meta{}, false
	}
	return *meta, true
}

func (m *Memory) meta(ctx context.Context, conversationID string) *Meta {
	val, err := m.kv.Get(ctx, metaKey(conversationID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			m.log.Warn("conversation meta read failed", "conversation", conversationID, "error", err)
		}
		return nil
	}
	var meta Meta
	if err := json.Unmarshal([]byte(val), &meta); err != nil {
		return nil
	}
	return &meta
}

// List returns the live conversations of a user, pruning index entries
// whose conversations have since expired.
func (m *Memory) List(ctx context.Context, userID string) []Meta {
	ids, err := m.kv.SMembers(ctx, userKey(userID))
	if err != nil {
		m.log.Warn("user conversation list failed", "user", userID, "error", err)
		return nil
	}
	metas := make([]Meta, 0, len(ids))
	for _, id := range ids {
		meta := m.meta(ctx, id)
		if meta == nil {
			_ = m.kv.SRem(ctx, userKey(userID), id)
			continue
		}
		metas = append(metas, *meta)
	}
	return metas
}

// Delete removes a conversation and reports whether it existed.
func (m *Memory) Delete(ctx context.Context, conversationID string) bool {
	meta := m.meta(ctx, conversationID)
	if _, err := m.kv.Get(ctx, convKey(conversationID)); err != nil && meta == nil {
		return false
	}
	if err := m.kv.Del(ctx, convKey(conversationID), metaKey(conversationID)); err != nil {
		m.log.Warn("conversation delete failed", "conversation", conversationID, "error", err)
		return false
	}
	if meta != nil && meta.UserID != "" {
		_ = m.kv.SRem(ctx, userKey(meta.UserID), conversationID)
	}
	return true
}
