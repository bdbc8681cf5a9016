package history

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore is an in-memory RecordStore for tests. It enforces the same
// one-record-per-session constraint the Postgres unique index does.
type MemoryStore struct {
	mu        sync.Mutex
	bySession map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bySession: map[string]Record{}}
}

func (s *MemoryStore) FindBySession(ctx context.Context, sessionID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.bySession[sessionID]
	return rec, ok, nil
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySession[rec.SessionID]; ok {
		return errors.New("history: duplicate session_id")
	}
	s.bySession[rec.SessionID] = rec
	return nil
}

// All returns every record. Test helper.
func (s *MemoryStore) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.bySession))
	for _, rec := range s.bySession {
		out = append(out, rec)
	}
	return out
}
