package session

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, id)
		return nil, nil
	}
	st := e.state
	if st.Balance != nil {
		b := *st.Balance
		st.Balance = &b
	}
	return &st, nil
}

func (m *MemoryStore) Put(_ context.Context, id string, st State, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.entries[id] = memoryEntry{state: st, expiresAt: expires}
	return nil
}

func (m *MemoryStore) SetBalance(_ context.Context, id string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	e.state.Balance = &balance
	m.entries[id] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}
