package syncserver

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memDocStore backs the server when no DATABASE_URL is configured, the same
// way the auth tier runs stateless without Postgres.
type memDocStore struct {
	mu    sync.Mutex
	rooms map[string]map[string]Document
}

// NewMemDocStore returns an in-process DocStore.
func NewMemDocStore() DocStore {
	return &memDocStore{rooms: make(map[string]map[string]Document)}
}

func (s *memDocStore) Upsert(_ context.Context, room string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.rooms[room]
	if col == nil {
		col = make(map[string]Document)
		s.rooms[room] = col
	}
	if existing, ok := col[doc.ID]; ok {
		merged := merge(existing, doc)
		merged.CreatedAt = existing.CreatedAt
		col[doc.ID] = merged
		return nil
	}
	doc.CreatedAt = time.Now().UTC()
	col[doc.ID] = doc
	return nil
}

func (s *memDocStore) List(_ context.Context, room string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.rooms[room]
	out := make([]Document, 0, len(col))
	for _, doc := range col {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *memDocStore) DeleteRoom(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
	return nil
}

func (s *memDocStore) Ping(context.Context) error { return nil }

func (s *memDocStore) Close() error { return nil }
