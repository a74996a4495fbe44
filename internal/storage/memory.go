package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

const memoryDriver = "memory"

// Memory is an in-process Store. Keys are lost when the process exits.
type Memory struct {
	mu     sync.RWMutex
	keys   map[string]time.Time
	audit  []AuditEntry
	closed bool
}

func NewMemory() *Memory {
	return &Memory{keys: map[string]time.Time{}}
}

func (m *Memory) Contains(ctx context.Context, key string) (bool, error) {
	_ = ctx
	key = normalizeKey(key)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, wrap(memoryDriver, "contains", key, ErrClosed)
	}
	_, ok := m.keys[key]
	return ok, nil
}

func (m *Memory) Record(ctx context.Context, key string) error {
	_ = ctx
	key = normalizeKey(key)
	if key == "" {
		return wrap(memoryDriver, "record", key, errors.New("empty key"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrap(memoryDriver, "record", key, ErrClosed)
	}
	if _, ok := m.keys[key]; !ok {
		m.keys[key] = time.Now()
	}
	return nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys), nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrap(memoryDriver, "audit", e.Key, ErrClosed)
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
