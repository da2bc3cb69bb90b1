package store

import (
	"sync"

	"jinokyu-chat/internal/message"
)

// memStore is the fallback used when the local database cannot be opened.
// Messages keep insertion order; nothing survives the process.
type memStore struct {
	mu       sync.Mutex
	messages []message.Message
	ids      map[string]struct{}
	media    map[string]MediaRecord
}

// NewMemory returns an in-process Store. Used directly in tests and as the
// fallback strategy picked by Open.
func NewMemory() Store {
	return &memStore{
		ids:   make(map[string]struct{}),
		media: make(map[string]MediaRecord),
	}
}

func (s *memStore) Mode() string { return "memory" }

func (s *memStore) Close() error { return nil }

func (s *memStore) SaveMedia(rec MediaRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = NewMediaID()
	}
	if rec.Size == 0 {
		rec.Size = int64(len(rec.Blob))
	}
	s.media[rec.ID] = rec
	return rec.ID, nil
}

func (s *memStore) GetMedia(id string) (*MediaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.media[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memStore) SaveMessage(msg message.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.ids[msg.ID]; taken {
		return "", ErrDuplicateID
	}
	s.ids[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

func (s *memStore) LoadMessages() ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

func (s *memStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.ids = make(map[string]struct{})
	s.media = make(map[string]MediaRecord)
	return nil
}
