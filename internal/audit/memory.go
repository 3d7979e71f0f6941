package audit

import (
	"context"
	"sort"
	"sync"
)

// DefaultMemoryCapacity bounds the in-memory sink.
const DefaultMemoryCapacity = 10000

// MemoryStore keeps the most recent records in memory. It is the default
// sink and the one used in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
}

// NewMemoryStore creates a store holding at most capacity records; older
// records are discarded first.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Write(record *Record) error {
	if record == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, *record)
	if over := len(s.records) - s.capacity; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	return nil
}

func (s *MemoryStore) Flush() error {
	return nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns a copy of every stored record in write order.
func (s *MemoryStore) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...)
}

// Query returns matching records ordered by time, oldest first.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]Record, error) {
	q = q.Normalize()

	s.mu.RLock()
	matched := []Record{}
	for i := range s.records {
		if q.Matches(&s.records[i]) {
			matched = append(matched, s.records[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}
