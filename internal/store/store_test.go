package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jinokyu-chat/internal/message"
)

func openTestBolt(t *testing.T) Store {
	t.Helper()
	s := Open(filepath.Join(t.TempDir(), "chat.db"), zerolog.Nop())
	if s.Mode() != "bolt" {
		t.Fatalf("expected bolt mode, got %s", s.Mode())
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenFallsBackToMemory(t *testing.T) {
	// Parent of the db path is a regular file, so MkdirAll must fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := Open(filepath.Join(blocker, "chat.db"), zerolog.Nop())
	if s.Mode() != "memory" {
		t.Fatalf("expected memory fallback, got %s", s.Mode())
	}

	// All operations must still work in memory mode.
	msgs := []message.Message{
		message.New("alice", "one", nil),
		message.New("alice", "two", nil),
		message.New("bob", "three", nil),
	}
	for _, m := range msgs {
		if _, err := s.SaveMessage(m); err != nil {
			t.Fatalf("save in memory mode: %v", err)
		}
	}
	got, err := s.LoadMessages()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(got))
	}
	for i := range msgs {
		if got[i].ID != msgs[i].ID || got[i].Content != msgs[i].Content {
			t.Fatalf("round-trip mismatch at %d: %+v vs %+v", i, got[i], msgs[i])
		}
	}
}

func TestSaveAndLoadOrderedByTimestamp(t *testing.T) {
	s := openTestBolt(t)
	base := time.Now().UTC()
	// Saved out of timestamp order on purpose.
	for _, m := range []message.Message{
		{ID: "b", SenderID: "alice", Content: "second", Timestamp: base.Add(2 * time.Second)},
		{ID: "a", SenderID: "alice", Content: "first", Timestamp: base.Add(1 * time.Second)},
		{ID: "c", SenderID: "alice", Content: "third", Timestamp: base.Add(3 * time.Second)},
	} {
		if _, err := s.SaveMessage(m); err != nil {
			t.Fatalf("save %s: %v", m.ID, err)
		}
	}
	got, err := s.LoadMessages()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestSaveMessageDuplicateID(t *testing.T) {
	for _, s := range []Store{openTestBolt(t), NewMemory()} {
		msg := message.Message{ID: "dup", SenderID: "alice", Content: "x", Timestamp: time.Now()}
		if _, err := s.SaveMessage(msg); err != nil {
			t.Fatalf("%s: first save: %v", s.Mode(), err)
		}
		if _, err := s.SaveMessage(msg); !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("%s: expected ErrDuplicateID, got %v", s.Mode(), err)
		}
	}
}

func TestMediaRoundTrip(t *testing.T) {
	for _, s := range []Store{openTestBolt(t), NewMemory()} {
		blob := []byte{0x89, 0x50, 0x4e, 0x47, 0x01, 0x02}
		id, err := s.SaveMedia(MediaRecord{Blob: blob, Mime: "image/png", Name: "pic.png"})
		if err != nil {
			t.Fatalf("%s: save media: %v", s.Mode(), err)
		}
		if id == "" {
			t.Fatalf("%s: empty media id", s.Mode())
		}
		rec, err := s.GetMedia(id)
		if err != nil {
			t.Fatalf("%s: get media: %v", s.Mode(), err)
		}
		if rec == nil {
			t.Fatalf("%s: media not found", s.Mode())
		}
		if !bytes.Equal(rec.Blob, blob) || rec.Mime != "image/png" || rec.Name != "pic.png" || rec.Size != int64(len(blob)) {
			t.Fatalf("%s: round-trip mismatch: %+v", s.Mode(), rec)
		}
	}
}

func TestGetMediaMissingReturnsNil(t *testing.T) {
	for _, s := range []Store{openTestBolt(t), NewMemory()} {
		rec, err := s.GetMedia("media_404_nope")
		if err != nil {
			t.Fatalf("%s: missing key must not error: %v", s.Mode(), err)
		}
		if rec != nil {
			t.Fatalf("%s: expected nil record, got %+v", s.Mode(), rec)
		}
	}
}

func TestDeleteAllIdempotent(t *testing.T) {
	for _, s := range []Store{openTestBolt(t), NewMemory()} {
		if _, err := s.SaveMessage(message.New("alice", "hello", nil)); err != nil {
			t.Fatal(err)
		}
		if _, err := s.SaveMedia(MediaRecord{Blob: []byte("x"), Name: "a"}); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2; i++ {
			if err := s.DeleteAll(); err != nil {
				t.Fatalf("%s: deleteAll #%d: %v", s.Mode(), i+1, err)
			}
			msgs, err := s.LoadMessages()
			if err != nil {
				t.Fatal(err)
			}
			if len(msgs) != 0 {
				t.Fatalf("%s: store not empty after delete: %+v", s.Mode(), msgs)
			}
		}
	}
}

func TestDeleteAllAllowsReuseOfID(t *testing.T) {
	s := openTestBolt(t)
	msg := message.Message{ID: "m1", SenderID: "alice", Content: "x", Timestamp: time.Now()}
	if _, err := s.SaveMessage(msg); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteAll(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveMessage(msg); err != nil {
		t.Fatalf("id should be free after deleteAll: %v", err)
	}
}

func TestLocalHelloScenario(t *testing.T) {
	s := openTestBolt(t)
	msg := message.New("alice", "hello", nil)
	if err := msg.Validate(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveMessage(msg); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "hello" || got[0].ID == "" || len(got[0].Attachments) != 0 {
		t.Fatalf("unexpected history: %+v", got)
	}
}
