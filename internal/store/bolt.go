package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"jinokyu-chat/internal/message"
)

const (
	messagesBucket = "messages"
	timeIdxBucket  = "messages_ts"
	mediaBucket    = "media"
)

// boltStore keeps messages keyed by id with a timestamp index, and media
// blobs keyed by blob id, all in one BoltDB file.
type boltStore struct {
	db *bbolt.DB
}

func openBolt(path string) (*boltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{messagesBucket, timeIdxBucket, mediaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Mode() string { return "bolt" }

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *boltStore) SaveMedia(rec MediaRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = NewMediaID()
	}
	if rec.Size == 0 {
		rec.Size = int64(len(rec.Blob))
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(mediaBucket)).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *boltStore) GetMedia(id string) (*MediaRecord, error) {
	var rec *MediaRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(mediaBucket)).Get([]byte(id))
		if data == nil {
			return nil
		}
		var r MediaRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *boltStore) SaveMessage(msg message.Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		msgs := tx.Bucket([]byte(messagesBucket))
		if msgs.Get([]byte(msg.ID)) != nil {
			return ErrDuplicateID
		}
		if err := msgs.Put([]byte(msg.ID), data); err != nil {
			return err
		}
		return tx.Bucket([]byte(timeIdxBucket)).Put(timeKey(msg), []byte(msg.ID))
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// timeKey orders the index by timestamp, with the id as tiebreaker for
// same-instant messages.
func timeKey(msg message.Message) []byte {
	return []byte(fmt.Sprintf("%020d-%s", msg.Timestamp.UnixNano(), msg.ID))
}

func (s *boltStore) LoadMessages() ([]message.Message, error) {
	var out []message.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		msgs := tx.Bucket([]byte(messagesBucket))
		cursor := tx.Bucket([]byte(timeIdxBucket)).Cursor()
		for k, id := cursor.First(); k != nil; k, id = cursor.Next() {
			data := msgs.Get(id)
			if data == nil {
				continue
			}
			var msg message.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			out = append(out, msg)
		}
		return nil
	})
	return out, err
}

func (s *boltStore) DeleteAll() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{messagesBucket, timeIdxBucket, mediaBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}
