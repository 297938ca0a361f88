package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Compile-time check that Memory implements Store.
var _ Store = (*Memory)(nil)

type entry struct {
	value     string
	set       map[string]struct{}
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process Store with TTL semantics. It backs tests and
// Redis-less deployments; entries do not survive a restart.
type Memory struct {
	mu   sync.Mutex
	data map[string]*entry
	// now is overridable in tests to exercise expiry without sleeping.
	now func() time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]*entry), now: time.Now}
}

// get returns the live entry at key, dropping it if expired. Caller holds mu.
func (m *Memory) get(key string) (*entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		delete(m.data, key)
		return nil, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		e = &entry{}
		m.data[key] = e
	}
	n, _ := strconv.ParseInt(e.value, 10, 64)
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.get(key); ok {
		e.expiresAt = m.now().Add(ttl)
	}
	return nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, ErrNotFound
	}
	return e.expiresAt.Sub(m.now()), nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		e = &entry{set: make(map[string]struct{})}
		m.data[key] = e
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	for _, member := range members {
		e.set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok || e.set == nil {
		return nil, nil
	}
	members := make([]string, 0, len(e.set))
	for member := range e.set {
		members = append(members, member)
	}
	return members, nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok || e.set == nil {
		return nil
	}
	for _, member := range members {
		delete(e.set, member)
	}
	return nil
}

// SetClock overrides the time source. Test helper.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
