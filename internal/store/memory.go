package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stemsi/exstem-portal/internal/model"
)

// MemoryStore keeps encoded snapshots in a map. Entries are stored encoded so
// callers never share the answers map with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[Key][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Key][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (*model.Snapshot, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(raw)
}

func (m *MemoryStore) Put(_ context.Context, key Key, snap *model.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = raw
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, userID int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for k := range m.data {
		if k.UserID == userID {
			ids = append(ids, k.ExamID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) PruneExpired(_ context.Context, before time.Time) (int, error) {
	cutoff := before.UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, raw := range m.data {
		if expiredBefore(raw, cutoff) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}
